// Package handlers implements the REST endpoints of the discovery engine.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeAppError maps err to a status through its error code. Server-side
// failures expose only the code's message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Code: string(errors.CodeTimeout), Message: "request timed out"})
		return
	}
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	resp := ErrorResponse{Code: string(code), Message: errors.DefaultMessageForCode(code)}

	var ae *errors.AppError
	if stderrors.As(err, &ae) && status < 500 {
		resp.Message = ae.Message
		resp.Detail = ae.Detail
	}
	if status >= 500 {
		logging.FromContext(r.Context()).Error("request failed", logging.Err(err), logging.String("code", string(code)))
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.New(errors.CodeInvalidParam, "malformed request body").WithDetail(err.Error())
	}
	return nil
}

func asAppError(err error, target **errors.AppError) bool {
	return stderrors.As(err, target)
}
