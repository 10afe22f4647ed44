package httpresp

import (
	"errors"
	"net/http"
)

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrCompanyRequired    = "active company is required"
	ErrInternal           = "internal error"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type URLResponse struct {
	URL string `json:"url"`
}

// StatusRule binds a sentinel error to the HTTP status it is reported with.
type StatusRule struct {
	Err    error
	Status int
}

// StatusFor returns the status of the first rule whose sentinel err wraps,
// or 500.
func StatusFor(err error, rules ...StatusRule) int {
	if err == nil {
		return http.StatusOK
	}
	for _, rule := range rules {
		if errors.Is(err, rule.Err) {
			return rule.Status
		}
	}
	return http.StatusInternalServerError
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewURLResponse(url string) URLResponse {
	return URLResponse{URL: url}
}
