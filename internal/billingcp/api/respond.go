// Package api exposes the seat accounting operations as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	cperrors "github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/errors"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

type callerKey struct{}

// WithCallerID returns a context carrying the authenticated user ID.
func WithCallerID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, strings.TrimSpace(userID))
}

// CallerID returns the authenticated user ID, or "" for anonymous requests.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates it. An empty body is
// treated as an empty object.
func decodeJSON(r *http.Request, dst any) error {
	const op = "decode_request"

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return cperrors.InvalidInput(op, "invalid JSON body")
	}
	return validateStruct(op, dst)
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return cperrors.Internal(op, err)
	}
	be := cperrors.New(cperrors.KindInvalidInput, op, "request validation failed", nil)
	for _, fe := range verrs {
		be.WithDetail(fe.Field(), fe.Tag())
	}
	return be
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("billingcp.api: encode JSON response")
	}
}

// writeError maps err onto a status code and a body that carries the error
// code and any details attached to it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := cperrors.HTTPStatusOf(err)
	resp := errorResponse{Error: http.StatusText(status)}

	var be *cperrors.BillingError
	if errors.As(err, &be) {
		resp.Code = be.ResponseCode()
		if be.Message != "" {
			resp.Error = be.Message
		}
		resp.Details = be.Details
	}

	if status >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("Request failed")
	}
	writeJSON(w, status, resp)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
}
