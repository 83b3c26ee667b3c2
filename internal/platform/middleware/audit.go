package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
)

// AuditEntry records who changed what in the workflow.
type AuditEntry struct {
	ActorID    string
	Role       string
	Resource   string
	ResourceID string
	Action     string // create, update, delete
	Route      string
	Method     string
	IPAddress  string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries beyond the structured log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing /api/v1 request after it completes,
// together with the caller identity and the outcome status.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			id, _ := auth.IdentityFromContext(req.Context())
			entry := AuditEntry{
				ActorID:    id.ActorID,
				Role:       id.Role,
				Resource:   resourceFromPath(req.URL.Path),
				ResourceID: c.Param("id"),
				Action:     methodToAction(req.Method),
				Route:      c.Path(),
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				Timestamp:  time.Now().UTC(),
				StatusCode: c.Response().Status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Int("status", entry.StatusCode).
				Msg("workflow_change")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") || path == "/api/v1/auth/login" {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceFromPath returns the first non-role path segment after /api/v1/:
// /api/v1/claims/<id>/submit -> claims, /api/v1/insurer/policies -> policies.
func resourceFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	for _, s := range segments {
		switch s {
		case "", "admin", "insurer", "hospital":
			continue
		}
		return s
	}
	return "unknown"
}
