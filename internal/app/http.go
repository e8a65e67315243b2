package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/rbac"
	"github.com/vitalik-svt/tomata/internal/search"
	"github.com/vitalik-svt/tomata/internal/util"
)

// Inline images travel in request bodies, hence the generous limit.
const maxBodyBytes = 32 << 20

const (
	requestIDKey = "request_id"
	sessionKey   = "session"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.Use(s.withRequestLog(), gin.CustomRecovery(s.recover), cors.New(s.corsConfig()))

	r.GET("/api/health", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/ready", s.handleReady)
	r.GET("/api/session", s.handleSession)
	r.POST("/api/auth/signin", s.handleSignIn)
	r.POST("/api/auth/logout", s.handleLogout)

	api := r.Group("/api", s.requireSession)
	api.GET("/assignments", s.allow(rbac.ActionRead), s.handleListAssignments)
	api.GET("/assignments/search", s.allow(rbac.ActionRead), s.handleSearch)
	api.POST("/assignments", s.allow(rbac.ActionWrite), s.handleCreateAssignment)
	api.GET("/assignments/:id", s.allow(rbac.ActionRead), s.handleGetAssignment)
	api.POST("/assignments/:id", s.allow(rbac.ActionWrite), s.handleUpdateAssignment)
	api.POST("/assignments/:id/versions", s.allow(rbac.ActionWrite), s.handleDuplicate)
	api.DELETE("/assignments/:id", s.allow(rbac.ActionDelete), s.handleDeleteAssignment)
	api.GET("/groups/:group_id/latest", s.allow(rbac.ActionRead), s.handleLatestInGroup)
	api.DELETE("/groups/:group_id", s.allow(rbac.ActionDelete), s.handleDeleteGroup)

	users := api.Group("/users", s.allow(rbac.ActionManageUsers))
	users.GET("", s.handleListUsers)
	users.POST("", s.handleCreateUser)
	users.DELETE("/:username", s.handleDeleteUser)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	return r
}

func (s *HTTPServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	origin := strings.TrimSpace(s.corsOrigin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	return cfg
}

// withRequestLog assigns a request id, echoes it back and writes one access log line per request.
func (s *HTTPServer) withRequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Header("Cache-Control", "no-store")

		started := time.Now()
		c.Next()

		s.log.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}

func (s *HTTPServer) recover(c *gin.Context, recovered any) {
	s.log.Error("panic in handler", "request_id", c.GetString(requestIDKey), "panic", fmt.Sprint(recovered))
	writeError(c, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func (s *HTTPServer) requireSession(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(c.Request.Context(), token)
	if err != nil {
		status, code, message, _ := mapError(err)
		if status != http.StatusUnauthorized {
			s.log.Error("session lookup failed", "request_id", c.GetString(requestIDKey), "error", err)
			writeError(c, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		writeError(c, status, code, message, nil)
		return
	}
	c.Set(sessionKey, session)
	c.Next()
}

func (s *HTTPServer) allow(action rbac.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.service.Can(sessionFrom(c).Role, action) {
			writeError(c, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		c.Next()
	}
}

func sessionFrom(c *gin.Context) Session {
	session, _ := c.Get(sessionKey)
	out, _ := session.(Session)
	return out
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"ok": false, "status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "status": "ready"})
}

func (s *HTTPServer) handleSession(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		writeJSON(c, http.StatusOK, gin.H{"authenticated": false, "username": nil})
		return
	}
	session, err := s.service.SessionFromToken(c.Request.Context(), token)
	if err != nil {
		writeJSON(c, http.StatusOK, gin.H{"authenticated": false, "username": nil})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"authenticated": true, "username": session.Username, "role": session.Role})
}

func (s *HTTPServer) handleSignIn(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	session, err := s.service.SignIn(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"token":      session.Token,
		"username":   session.Username,
		"role":       session.Role,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleLogout(c *gin.Context) {
	if token := bearerToken(c.Request); token != "" {
		if session, err := s.service.SessionFromToken(c.Request.Context(), token); err == nil {
			if err := s.service.Logout(c.Request.Context(), session); err != nil {
				s.log.Warn("logout failed", "request_id", c.GetString(requestIDKey), "error", err)
			}
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleListAssignments(c *gin.Context) {
	summaries, err := s.service.ListGroupSummaries(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, summaries)
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	q := search.Query{
		Text:   strings.TrimSpace(c.Query("q")),
		Status: strings.TrimSpace(c.Query("status")),
	}
	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		s.fail(c, err)
		return
	}
	if q.Offset, err = queryInt(c, "offset"); err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.service.Search(c.Request.Context(), q))
}

func (s *HTTPServer) handleCreateAssignment(c *gin.Context) {
	initial := model.Document{}
	if err := decodeBody(c, &initial); err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.service.CreateNew(c.Request.Context(), sessionFrom(c).Username, initial)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"id": doc.ID(), "group_id": doc.GroupID(), "version": doc.Version()})
}

func (s *HTTPServer) handleGetAssignment(c *gin.Context) {
	display, err := s.service.GetForDisplay(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, display)
}

func (s *HTTPServer) handleUpdateAssignment(c *gin.Context) {
	var patch model.Document
	if err := decodeBody(c, &patch); err != nil {
		s.fail(c, err)
		return
	}
	if patch == nil {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "Request body must be a JSON object", nil)
		return
	}
	doc, err := s.service.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, doc.Without(model.FieldSchema, model.FieldEventsMapper))
}

func (s *HTTPServer) handleDuplicate(c *gin.Context) {
	useNewSchema := false
	if raw := c.Query("use_new_schema"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_INPUT", "use_new_schema must be a boolean", nil)
			return
		}
		useNewSchema = parsed
	}
	id, err := s.service.Duplicate(c.Request.Context(), c.Param("id"), useNewSchema)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"id": id})
}

func (s *HTTPServer) handleDeleteAssignment(c *gin.Context) {
	res, err := s.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *HTTPServer) handleLatestInGroup(c *gin.Context) {
	display, err := s.service.LatestInGroup(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, display)
}

func (s *HTTPServer) handleDeleteGroup(c *gin.Context) {
	res, err := s.service.DeleteGroup(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *HTTPServer) handleListUsers(c *gin.Context) {
	users, err := s.service.ListUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"users": users, "roles": rbac.Roles()})
}

func (s *HTTPServer) handleCreateUser(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeBody(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	user, err := s.service.CreateUser(c.Request.Context(), strings.TrimSpace(body.Username), body.Password, body.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, user)
}

func (s *HTTPServer) handleDeleteUser(c *gin.Context) {
	if err := s.service.DeleteUser(c.Request.Context(), sessionFrom(c).Username, c.Param("username")); err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"path", c.FullPath(),
			"code", code,
			"error", err,
		)
	}
	writeError(c, status, code, message, details)
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

// decodeBody reads a JSON body into target. An empty body leaves target untouched.
func decodeBody(c *gin.Context, target any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", errs.ErrInvalidInput, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON body", errs.ErrInvalidInput)
	}
	return nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errs.ErrInvalidInput, key)
	}
	return n, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
