package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/and161185/caregate/internal/errs"
)

const maxBodyBytes = 1 << 20

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type errorClass struct {
	status int
	code   string
}

var classOf = map[error]errorClass{
	errs.ErrUnauthenticated:       {http.StatusUnauthorized, "unauthenticated"},
	errs.ErrForbidden:             {http.StatusForbidden, "forbidden"},
	errs.ErrInvalidCredentials:    {http.StatusUnauthorized, "invalid_credentials"},
	errs.ErrInvalidFederatedToken: {http.StatusUnauthorized, "invalid_federated_token"},
	errs.ErrDuplicateIdentity:     {http.StatusConflict, "duplicate_identity"},
	errs.ErrDuplicateApplication:  {http.StatusConflict, "duplicate_application"},
	errs.ErrInvalidTransition:     {http.StatusConflict, "invalid_transition"},
	errs.ErrNotFound:              {http.StatusNotFound, "not_found"},
	errs.ErrValidation:            {http.StatusBadRequest, "validation_failed"},
	errs.ErrRateLimited:           {http.StatusTooManyRequests, "rate_limited"},
	errs.ErrStorageUnavailable:    {http.StatusServiceUnavailable, "storage_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &apiError{Code: code, Message: message}})
}

// handleServiceError writes the response for a domain error.
func handleServiceError(w http.ResponseWriter, err error) {
	c, ok := classOf[errs.Kind(err)]
	if !ok {
		c = errorClass{http.StatusInternalServerError, "internal"}
	}
	if c.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, c.status, c.code, errs.PublicMessage(err))
}

// decode reads a single JSON object into v. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			return fmt.Errorf("%w: body exceeds %d bytes", errs.ErrValidation, mbe.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errs.ErrValidation)
		default:
			return fmt.Errorf("%w: malformed json: %v", errs.ErrValidation, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after json object", errs.ErrValidation)
	}
	return nil
}
