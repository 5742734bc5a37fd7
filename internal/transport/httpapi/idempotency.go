package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — заголовок с ключом идемпотентности.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, если ответ взят из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent повторно отдаёт сохранённый ответ на запрос с тем же Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно.
func idempotent(guard *idempotency.Guard, identity domain.IdentityProvider, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if guard == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			abortWithMessage(c, http.StatusBadRequest, "idempotency key is too long")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithMessage(c, http.StatusBadRequest, "could not read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// Ключи разных пользователей не пересекаются.
		user, _ := identity.CurrentUser(c.Request.Context())
		scopedKey := user.ID + "/" + key
		hash := idempotency.RequestHash(c.Request.Method+" "+c.FullPath(), body)

		ctx := c.Request.Context()
		replay, err := guard.Begin(ctx, scopedKey, hash)
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			abortWithMessage(c, http.StatusUnprocessableEntity, "idempotency key was already used with a different request")
			return
		case errors.Is(err, idempotency.ErrRequestInProgress):
			abortWithMessage(c, http.StatusConflict, "request with this idempotency key is still in progress")
			return
		case err != nil:
			writeError(c, logger, err)
			return
		case replay != nil:
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(replay.Status, gin.MIMEJSON+"; charset=utf-8", replay.Body)
			c.Abort()
			return
		}

		// Паника обработчика не должна оставлять ключ в processing до истечения TTL.
		defer func() {
			if r := recover(); r != nil {
				_ = guard.Complete(context.WithoutCancel(ctx), scopedKey, idempotency.Response{Status: http.StatusInternalServerError})
				panic(r)
			}
		}()

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Ответ сохраняется, даже если клиент уже отключился.
		resp := idempotency.Response{Status: recorder.Status(), Body: recorder.body.Bytes()}
		if err := guard.Complete(context.WithoutCancel(ctx), scopedKey, resp); err != nil {
			logger.WithError(err).WithField("idempotency_key", key).Error("failed to store idempotent response")
		}
	}
}
