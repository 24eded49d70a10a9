// Package httputil holds the JSON response helpers shared by every handler.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	dErrors "medgate/pkg/domain-errors"
)

// maxBodyBytes caps decoded request bodies. Transcripts are long but bounded.
const maxBodyBytes = 2 << 20

// ErrorResponse is the body of every gateway-generated error.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Code        string `json:"code"`
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err to its status and writes an ErrorResponse. Internal errors
// never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{
		Error: string(code),
		Code:  strings.ToUpper(string(code)),
	}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
		}
	}
	WriteJSON(w, dErrors.StatusFor(code), resp)
}

// DecodeJSON decodes a size-limited JSON body into T, returning a validation
// error on malformed input.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeValidation, "request body is required")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return &v, nil
}
