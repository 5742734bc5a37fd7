package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// errorResponse — тело любого ответа с ошибкой.
type errorResponse struct {
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusForKind сопоставляет вид ошибки оформления/оплаты с HTTP-статусом.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMissingAddress, domain.KindIncompleteLineItem, domain.KindAmountMismatch:
		return http.StatusBadRequest
	case domain.KindStorageFailure:
		return http.StatusServiceUnavailable
	case domain.KindPaymentProviderUnavailable:
		return http.StatusBadGateway
	case domain.KindMissingOwner, domain.KindPaymentNotCompleted:
		return http.StatusUnauthorized
	case domain.KindOrderNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyPaid:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ошибку и прерывает цепочку обработчиков.
// Ошибки без вида считаются сбоем хранилища, если это StorageError, иначе внутренней ошибкой.
func writeError(c *gin.Context, logger *log.Entry, err error) {
	if kind, ok := domain.KindOf(err); ok {
		c.AbortWithStatusJSON(statusForKind(kind), errorResponse{
			Message: domain.MessageOf(err),
			Kind:    string(kind),
		})
		return
	}

	entry := logger.WithError(err).WithFields(log.Fields{
		"method": c.Request.Method,
		"route":  c.FullPath(),
	})

	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		entry.Warn("storage error")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
			Message: storageErr.Message,
			Kind:    string(domain.KindStorageFailure),
		})
		return
	}

	entry.Error("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Message: "internal error"})
}

func abortWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Message: message})
}
