package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable failure codes carried in error responses.
const (
	CodeJWKSRequestFailed = "JWKS_REQUEST_FAILED"
	CodeJWKNotFound       = "JWK_NOT_FOUND"
	CodeDomainNotAllowed  = "DOMAIN_NOT_ALLOWED"
	CodeNoAuthorization   = "NO_AUTHORIZATION_IN_HEADER"
	CodeBadAuthorization  = "BAD_AUTHORIZATION_HEADER"
	CodeTokenInvalid      = "AUTHORIZATION_TOKEN_INVALID"
	CodeTokenExpired      = "AUTHORIZATION_TOKEN_EXPIRED"
	CodeTokenNotActive    = "AUTHORIZATION_TOKEN_NOT_ACTIVE"
)

// Error is a rejected authentication attempt. StatusCode is the HTTP status
// the request should be answered with.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

// ErrorBody is the JSON shape written for a rejected request.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// NewError builds an Error; cause may be nil.
func NewError(status int, code, message string, cause error) *Error {
	return &Error{StatusCode: status, Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Body renders the response body for the error.
func (e *Error) Body() ErrorBody {
	return ErrorBody{
		StatusCode: e.StatusCode,
		Code:       e.Code,
		Error:      http.StatusText(e.StatusCode),
		Message:    e.Message,
	}
}

// AsError returns err as an *Error. Unknown errors become a 500 so nothing
// leaves the middleware without a structured body.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication failed unexpectedly.", err)
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func errJWKSRequestFailed(cause error) *Error {
	return NewError(http.StatusInternalServerError, CodeJWKSRequestFailed, "Unable to fetch the key set from the issuer.", cause)
}

func errJWKNotFound(cause error) *Error {
	return NewError(http.StatusInternalServerError, CodeJWKNotFound, "No matching key found in the key set.", cause)
}

func errDomainNotAllowed(domain string) *Error {
	return NewError(http.StatusInternalServerError, CodeDomainNotAllowed, fmt.Sprintf("The issuer domain %q is not allowed.", domain), nil)
}

func errTokenInvalid(cause error) *Error {
	return NewError(http.StatusUnauthorized, CodeTokenInvalid, "Authorization token is invalid.", cause)
}
