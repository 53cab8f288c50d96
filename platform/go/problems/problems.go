// Package problems renders RFC 7807 problem details.
package problems

import (
	"encoding/json"
	"net/http"
)

const (
	TypeValidation         = "https://palmyra.pro/problems/validation-error"
	TypeUnauthorized       = "https://palmyra.pro/problems/unauthorized"
	TypeForbidden          = "https://palmyra.pro/problems/forbidden"
	TypeNotFound           = "https://palmyra.pro/problems/not-found"
	TypeConflict           = "https://palmyra.pro/problems/conflict"
	TypeUpstream           = "https://palmyra.pro/problems/upstream-failure"
	TypeServiceUnavailable = "https://palmyra.pro/problems/service-unavailable"
	TypeInternal           = "https://palmyra.pro/problems/internal-error"
)

// ContentType is the media type for problem responses.
const ContentType = "application/problem+json"

// Details is the problem document written to clients.
type Details struct {
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

// New builds a problem without field errors.
func New(status int, problemType, title, detail string) Details {
	return Details{Type: problemType, Title: title, Status: status, Detail: detail}
}

// Validation builds a 400 problem listing invalid fields.
func Validation(detail string, fields map[string][]string) Details {
	p := New(http.StatusBadRequest, TypeValidation, "Validation failed", detail)
	if len(fields) > 0 {
		p.Errors = fields
	}
	return p
}

// Write serialises p with its status code.
func Write(w http.ResponseWriter, p Details) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
