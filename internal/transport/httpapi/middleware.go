package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/session"
)

const (
	// SessionCookie — cookie с идентификатором сессии покупателя.
	SessionCookie = "session_id"

	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
	headerUserRole  = "X-User-Role"

	ctxRequestID = "request_id"
	ctxSession   = "session"
)

type identityKey struct{}

// WithIdentity кладёт пользователя в контекст запроса.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// ContextIdentity читает пользователя, положенного в контекст WithIdentity.
type ContextIdentity struct{}

// CurrentUser реализует domain.IdentityProvider.
func (ContextIdentity) CurrentUser(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(domain.Identity)
	if !ok || identity.ID == "" {
		return domain.Identity{}, false
	}
	return identity, true
}

var _ domain.IdentityProvider = ContextIdentity{}

// requestID проставляет X-Request-ID, если клиент его не прислал.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog пишет строку лога и метрики на каждый запрос.
func accessLog(logger *log.Entry, m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		if m != nil {
			m.Observe(c.Request.Method, c.FullPath(), status, elapsed)
		}

		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
			"request_id": c.GetString(ctxRequestID),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request completed")
		case status >= http.StatusBadRequest:
			entry.Warn("request completed")
		default:
			entry.Debug("request completed")
		}
	}
}

// identityFromHeaders переносит пользователя из заголовков шлюза аутентификации в контекст.
// Неизвестная роль понижается до client.
func identityFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			c.Next()
			return
		}

		role := domain.Role(strings.TrimSpace(c.GetHeader(headerUserRole)))
		switch role {
		case domain.RoleAdmin, domain.RoleSuperUser, domain.RoleSEO:
		default:
			role = domain.RoleClient
		}
		ctx := WithIdentity(c.Request.Context(), domain.Identity{ID: userID, Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requireUser(identity domain.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.CurrentUser(c.Request.Context()); !ok {
			abortWithMessage(c, http.StatusUnauthorized, "authentication required")
			return
		}
		c.Next()
	}
}

func requireStaff(identity domain.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := identity.CurrentUser(c.Request.Context())
		if !ok {
			abortWithMessage(c, http.StatusUnauthorized, "authentication required")
			return
		}
		if !user.IsStaff() {
			abortWithMessage(c, http.StatusForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

// sessionCookie открывает сессию покупателя по cookie session_id.
// Отсутствующий или некорректный идентификатор заменяется новым; срок cookie продлевается на каждом запросе.
func sessionCookie(sessions *session.Manager, maxAge time.Duration, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil {
			id = ""
		}
		if _, parseErr := uuid.Parse(id); parseErr != nil {
			id = uuid.NewString()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, id, int(maxAge.Seconds()), "/", "", secure, true)
		c.Set(ctxSession, sessions.Open(id))
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *session.Session {
	return c.MustGet(ctxSession).(*session.Session)
}
