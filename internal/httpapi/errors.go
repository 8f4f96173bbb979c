package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/rules"
	"github.com/roach88/poam/internal/service"
	"github.com/roach88/poam/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string           `json:"code"`
	Category  string           `json:"category,omitempty"`
	Message   string           `json:"message"`
	Violation *rules.Violation `json:"violation,omitempty"`
}

// Codes for errors raised by the transport itself.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeTimeout    = "TIMEOUT"
	CodeInternal   = "INTERNAL"
	CodeNoStore    = "STORE_DISABLED"
)

// writeError maps err onto a status code and ErrorResponse.
//
//	conformance rejection      422
//	UNKNOWN_FINGERPRINT        404
//	other configuration        400
//	malformed input            400
//	engine failure             500
//	deadline exceeded          504
//	cancelled                  503
func writeError(c *gin.Context, err error) {
	status, resp := errorResponse(err)
	c.AbortWithStatusJSON(status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	if v, ok := rules.ViolationOf(err); ok {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Code:      string(v.Code),
			Category:  string(prover.CategoryConformance),
			Message:   v.Message(),
			Violation: &v,
		}
	}

	var pe *prover.Error
	if errors.As(err, &pe) {
		resp := ErrorResponse{Code: string(pe.Code), Category: string(pe.Category()), Message: pe.Error()}
		switch pe.Category() {
		case prover.CategoryConfiguration:
			if pe.Code == prover.ErrCodeUnknownFingerprint {
				return http.StatusNotFound, resp
			}
			return http.StatusBadRequest, resp
		case prover.CategoryMalformed:
			return http.StatusBadRequest, resp
		default:
			return http.StatusInternalServerError, resp
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, service.ErrNoStore):
		return http.StatusNotImplemented, ErrorResponse{Code: CodeNoStore, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: CodeTimeout, Category: string(prover.CategoryCancelled), Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeTimeout, Category: string(prover.CategoryCancelled), Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Category: string(prover.CategoryInternal), Message: "internal error"}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:     CodeBadRequest,
		Category: string(prover.CategoryMalformed),
		Message:  err.Error(),
	})
}
