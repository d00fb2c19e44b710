package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

type ErrorResponse struct {
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err with the status of its kind. Unclassified and integrity
// errors are logged and their text withheld.
func fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
		msg = "internal error"
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Status: status, Code: string(kind), Error: msg})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Status: http.StatusBadRequest, Code: string(apperr.KindValidation), Error: msg})
}

func validationError(w http.ResponseWriter, r *http.Request, err error) {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		badRequest(w, r, err.Error())
		return
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", e.Field()))
		case "min", "max", "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s is out of range", e.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}
	badRequest(w, r, strings.Join(msgs, ", "))
}
