package handler

import (
	"github.com/gin-gonic/gin"

	"checkqr/internal/auth"
)

// Register mounts every route on r. signInLimit guards the credential
// endpoints; it may be nil.
func (h *Handler) Register(r *gin.Engine, signInLimit gin.HandlerFunc) {
	limited := func(final gin.HandlerFunc) []gin.HandlerFunc {
		if signInLimit == nil {
			return []gin.HandlerFunc{final}
		}
		return []gin.HandlerFunc{signInLimit, final}
	}

	r.GET("/healthz", h.Healthz)

	r.POST("/signup", limited(h.SignUp)...)
	r.POST("/signin", limited(h.SignIn)...)
	r.GET("/logout", h.Logout)

	r.POST("/generate", h.GenerateQR)
	r.GET("/list", h.ListQR)

	authed := r.Group("/", auth.Middleware(h.Auth, h.Cookies))
	authed.GET("/me", h.Me)
	authed.GET("/qr/:hash", h.GetQR)
	authed.POST("/verify", h.VerifyQR)

	authed.POST("/students", h.RegisterStudent)
	authed.GET("/students/:rollNo", h.GetStudent)
	authed.POST("/import", h.Import)
	authed.GET("/import/:id", h.ImportJob)

	authed.POST("/attendance", h.MarkAttendance)
	authed.GET("/attendance", h.ListAttendance)
	authed.GET("/events", h.Events)
	authed.GET("/events/:name", h.Event)

	authed.POST("/files", h.UploadFile)
	authed.GET("/files", h.ListFiles)
	authed.GET("/files/:id", h.DownloadFile)
	authed.DELETE("/files/:id", h.DeleteFile)

	r.NoRoute(h.NotFound)
}
