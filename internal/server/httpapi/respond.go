package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/and161185/studydesk/internal/errs"
)

const maxBodyBytes = 1 << 20

var statusByCode = map[string]int{
	"validation":      http.StatusBadRequest,
	"unauthenticated": http.StatusUnauthorized,
	"unauthorized":    http.StatusForbidden,
	"not_found":       http.StatusNotFound,
	"conflict":        http.StatusConflict,
	"unavailable":     http.StatusConflict,
	"rate_limited":    http.StatusTooManyRequests,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code; internal errors are not echoed.
func writeError(w http.ResponseWriter, err error) {
	code := errs.Code(err)
	status, ok := statusByCode[code]
	msg := err.Error()
	if !ok {
		status, msg = http.StatusInternalServerError, "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", errs.ErrValidation)
	}
	return nil
}
