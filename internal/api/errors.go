package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/lock"
	"github.com/tse-report-engine/internal/middleware"
	"github.com/tse-report-engine/internal/service"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error      *domain.EngineError     `json:"error"`
	Candidates []domain.Candidate      `json:"candidates,omitempty"`
	Validation *domain.ValidationError `json:"validation,omitempty"`
}

// writeError maps err to a status code and an engine error body.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationKey)
	status, code := classify(err)

	body := errorResponse{
		Error: domain.NewEngineError(code, http.StatusText(status), err.Error(), requestID),
	}
	var re *domain.ReconciliationError
	if errors.As(err, &re) {
		body.Candidates = re.Candidates
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Validation = ve
	}

	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": requestID,
		"code":           code,
		"status":         status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, service.ErrSelfCopy):
		return http.StatusBadRequest, domain.ErrValidation
	case domain.IsReconciliation(err):
		return http.StatusUnprocessableEntity, domain.ErrReconciliation
	case domain.IsSoftMiss(err):
		return http.StatusNotFound, domain.ErrResolutionMiss
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrInvalidInput
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict, domain.ErrConcurrentWrite
	case errors.Is(err, domain.ErrInvalidKind), errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, domain.ErrInvalidInput
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}
