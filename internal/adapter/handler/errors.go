package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/storefront/internal/core/domain"
)

const retryAfterSeconds = "1"

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type errorMapping struct {
	httpStatus int
	grpcCode   codes.Code
	body       errorResponse
}

// mapError is the single place domain errors become transport errors.
func mapError(err error) errorMapping {
	var (
		validation *domain.ValidationError
		notFound   *domain.ProductNotFoundError
		shortage   *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &validation):
		return errorMapping{http.StatusBadRequest, codes.InvalidArgument, errorResponse{
			Code: "validation_error", Message: err.Error(), Field: validation.Field,
		}}
	case errors.As(err, &notFound):
		return errorMapping{http.StatusNotFound, codes.NotFound, errorResponse{
			Code: "product_not_found", Message: err.Error(), ProductID: notFound.ProductID,
		}}
	case errors.As(err, &shortage):
		available := shortage.Available
		return errorMapping{http.StatusConflict, codes.FailedPrecondition, errorResponse{
			Code: "insufficient_stock", Message: err.Error(), ProductID: shortage.ProductID,
			Requested: shortage.Requested, Available: &available,
		}}
	case errors.Is(err, domain.ErrDuplicateRequest):
		return errorMapping{http.StatusConflict, codes.AlreadyExists, errorResponse{
			Code: "duplicate_request", Message: "a request with this idempotency key is still in progress",
		}}
	case errors.Is(err, domain.ErrInvalidTransition):
		return errorMapping{http.StatusConflict, codes.FailedPrecondition, errorResponse{
			Code: "invalid_transition", Message: err.Error(),
		}}
	case errors.Is(err, domain.ErrForbidden):
		return errorMapping{http.StatusForbidden, codes.PermissionDenied, errorResponse{
			Code: "forbidden", Message: "order belongs to another user",
		}}
	case errors.Is(err, domain.ErrOrderNotFound):
		return errorMapping{http.StatusNotFound, codes.NotFound, errorResponse{
			Code: "order_not_found", Message: err.Error(),
		}}
	case domain.IsRetryable(err):
		return errorMapping{http.StatusServiceUnavailable, codes.Unavailable, errorResponse{
			Code: "transaction_aborted", Message: "order could not be completed, please retry",
		}}
	}
	return errorMapping{http.StatusInternalServerError, codes.Internal, errorResponse{
		Code: "internal", Message: "internal server error",
	}}
}

func writeError(w http.ResponseWriter, err error) {
	m := mapError(err)
	if m.httpStatus == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, m.httpStatus, m.body)
}
