package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// CookieName holds the signed token in browsers.
	CookieName = "token"
	// SignInPath is where unauthenticated requests are sent.
	SignInPath = "/signin"

	claimsKey = "claims"
)

var timeNow = time.Now

// Cookies sets and clears the token cookie.
type Cookies struct {
	Secure bool
}

// Set stores tok as an HTTP-only cookie that expires with the token.
func (ck Cookies) Set(c *gin.Context, tok Token) {
	maxAge := int(tok.ExpiresAt.Sub(timeNow()).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, tok.Value, maxAge, "/", "", ck.Secure, true)
}

// Clear expires the cookie.
func (ck Cookies) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", ck.Secure, true)
}

// Middleware requires a valid token from the cookie or a bearer header.
// Any failure clears the cookie and redirects to the sign-in entry point.
func Middleware(svc *Service, ck Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := svc.Verify(tokenFrom(c))
		if err != nil {
			ck.Clear(c)
			c.Redirect(http.StatusSeeOther, SignInPath)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func tokenFrom(c *gin.Context) string {
	if authz := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if tok, err := c.Cookie(CookieName); err == nil {
		return tok
	}
	return ""
}
