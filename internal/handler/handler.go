package handler

import (
	"context"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"checkqr/internal/apperr"
	"checkqr/internal/attendance"
	"checkqr/internal/auth"
	"checkqr/internal/files"
	"checkqr/internal/importer"
	"checkqr/internal/qr"
	"checkqr/internal/roster"
)

// Deps are the services the handlers call.
type Deps struct {
	Auth       *auth.Service
	Cookies    auth.Cookies
	Attendance *attendance.Service
	QR         *qr.Service
	Files      *files.Service
	Importer   *importer.Importer
	// Jobs is nil when async import is unavailable.
	Jobs           *importer.Jobs
	MaxUploadBytes int64
	// Health reports component status for /healthz.
	Health func(ctx context.Context) map[string]bool
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if h.Health != nil {
		for name, ok := range h.Health(c.Request.Context()) {
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
	}
	c.JSON(status, body)
}

// ---------- Auth ----------

type signUpRequest struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.Auth.SignUp(c.Request.Context(), req.Username, req.Email, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, auth.SignInPath)
}

type signInRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Email      string `form:"email" json:"email"`
	Username   string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
}

func (r signInRequest) login() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, tok, err := h.Auth.SignIn(c.Request.Context(), req.login(), req.Password)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuth {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		respondError(c, err)
		return
	}
	h.Cookies.Set(c, tok)
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.Value,
		"token_type": "Bearer",
		"expires_at": tok.ExpiresAt.Unix(),
		"user":       u,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	h.Cookies.Clear(c)
	c.Redirect(http.StatusSeeOther, auth.SignInPath)
}

func (h *Handler) Me(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	u, err := h.Auth.User(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// ---------- QR ----------

func (h *Handler) GenerateQR(c *gin.Context) {
	var id qr.Identity
	if err := c.ShouldBind(&id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issued, err := h.QR.Issue(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if issued.Existing {
		status = http.StatusOK
	}
	c.JSON(status, issued)
}

func (h *Handler) ListQR(c *gin.Context) {
	var (
		recs []qr.Record
		err  error
	)
	if roll := c.Query("roll_no"); roll != "" {
		recs, err = h.QR.ByRollNo(c.Request.Context(), roll)
	} else {
		recs, err = h.QR.List(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr_list": recs})
}

func (h *Handler) GetQR(c *gin.Context) {
	rec, err := h.QR.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type verifyRequest struct {
	Content string `form:"content" json:"content" binding:"required"`
}

// VerifyQR checks the text read by a scanner.
func (h *Handler) VerifyQR(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, id, err := h.QR.Verify(c.Request.Context(), req.Content)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{"valid": false, "error": apperr.PublicMessage(err)})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "record": rec, "identity": id})
}

// ---------- Roster ----------

func (h *Handler) RegisterStudent(c *gin.Context) {
	var st roster.Student
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st.Events = nil
	out, err := h.Attendance.RegisterStudent(c.Request.Context(), st)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.Attendance.Student(c.Request.Context(), c.Param("rollNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Import loads a spreadsheet. With ?async=true the rows are queued and a
// job is returned for polling.
func (h *Handler) Import(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()
	if h.MaxUploadBytes > 0 && header.Size > h.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}
	rows, err := importer.Parse(header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.Jobs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async import not configured"})
			return
		}
		job, err := h.Jobs.Submit(c.Request.Context(), rows)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
		return
	}

	rep, err := h.Importer.Run(c.Request.Context(), rows)
	if err != nil {
		respondError(c, apperr.Storage(err, "import"))
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) ImportJob(c *gin.Context) {
	if h.Jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "async import not configured"})
		return
	}
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ---------- Attendance ----------

type markRequest struct {
	EventName   string   `json:"event_name" binding:"required"`
	BatchYears  []string `json:"batch_years"`
	Departments []string `json:"departments"`
	Present     []string `json:"present"`
}

func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Attendance.MarkAttendance(c.Request.Context(), attendance.MarkRequest{
		EventName: req.EventName,
		Filter:    roster.Filter{BatchYears: req.BatchYears, Departments: req.Departments},
		Present:   req.Present,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "attendance recorded for " + strconv.Itoa(res.Students) + " students",
		"result":  res,
	})
}

func (h *Handler) ListAttendance(c *gin.Context) {
	students, err := h.Attendance.Attendance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) Events(c *gin.Context) {
	events, err := h.Attendance.Events(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) Event(c *gin.Context) {
	e, err := h.Attendance.Event(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ---------- Files ----------

func owner(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.UserID
}

func (h *Handler) UploadFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
		return
	}
	f, err := h.Files.Store(c.Request.Context(), owner(c), files.Upload{
		FileName:    header.Filename,
		EventName:   c.PostForm("event_name"),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFiles(c *gin.Context) {
	fs, err := h.Files.List(c.Request.Context(), owner(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": fs})
}

func (h *Handler) DownloadFile(c *gin.Context) {
	f, err := h.Files.Get(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(f.FileName, `"`, "")+`"`)
	c.Data(http.StatusOK, f.ContentType, f.Data)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	if err := h.Files.Delete(c.Request.Context(), owner(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) NotFound(c *gin.Context) {
	respondError(c, apperr.NotFound("route not found"))
}
