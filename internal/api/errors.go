package api

import (
	"encoding/json"
	"net/http"

	"repolens/internal/errors"
)

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes an error with the status its code maps to.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorStatus(w, err, statusFor(errors.CodeOf(err)))
}

// WriteErrorStatus writes an error with an explicit status.
func WriteErrorStatus(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.CodeOf(err)),
	})
}

func statusFor(code errors.Code) int {
	switch code {
	case errors.InvalidRequest:
		return http.StatusBadRequest
	case errors.RepoUnavailable, errors.ProbeFailed:
		return http.StatusBadGateway
	case errors.ToolUnavailable:
		return http.StatusServiceUnavailable
	case errors.StoreUnavailable:
		return http.StatusServiceUnavailable
	case errors.JobCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
