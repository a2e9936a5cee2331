package sidechain

import (
	"fmt"

	"github.com/pkg/errors"
)

// API error codes returned by the remote sidechain service. Everything in
// this list is fatal: retrying the identical request cannot succeed.
const (
	CodeInsufficientFunds = "ERR_NSF"
	CodeValidation        = "ERR_VALIDATION"
	CodeSignatureInvalid  = "ERR_SIGNATURE_INVALID"
	CodeIdentity          = "ERR_IDENTITY_UNKNOWN"
	CodeBatchClosed       = "ERR_BATCH_CLOSED"
	CodeBatchNotFound     = "ERR_BATCH_NOT_FOUND"
	CodeFundNotFound      = "ERR_FUND_NOT_FOUND"
)

// APIError is a typed error response from the remote service.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sidechain api error %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Temporary classifies gateway-level failures without an error code as
// retryable; every coded rejection is fatal.
func (e *APIError) Temporary() bool {
	if e.Code != "" {
		return false
	}
	return e.StatusCode == 502 || e.StatusCode == 503
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// transportError wraps a network-level failure (connection reset, refused
// connection, timeout) so the funding retry loop classifies it as
// retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "sidechain transport: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Temporary() bool { return true }

// InvalidSignatureError is returned when a batch's trust chain or a
// micronote's signature fails verification. It is always fatal and the
// offending batch must be discarded.
type InvalidSignatureError struct {
	Subject string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("signature verification failed for %s", e.Subject)
}
