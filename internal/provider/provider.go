// Package provider classifies failures from external model providers and builds shared clients.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Kind distinguishes provider failures by how callers should react.
type Kind string

const (
	// KindNetwork covers transport failures, timeouts and upstream 5xx responses. Retryable.
	KindNetwork Kind = "network"
	// KindRateLimit covers 429 and quota exhaustion. Retryable later.
	KindRateLimit Kind = "rate_limit"
	// KindMalformed covers rejected input (400/422) and undecodable responses.
	KindMalformed Kind = "malformed"
	// KindAuth covers credential and permission failures. Not retryable.
	KindAuth Kind = "auth"
)

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimit
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsRateLimit reports whether err is a rate-limit or quota failure.
func IsRateLimit(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRateLimit
}

// IsMalformed reports whether err is a malformed-input or malformed-response failure.
func IsMalformed(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindMalformed
}

// Classify wraps err as an *Error. Context cancellation is returned unchanged
// since it is the caller's decision, not a provider failure.
func Classify(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	out := &Error{Provider: provider, Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
		out.Kind = kindForStatus(apiErr.HTTPStatusCode)
		if apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
			out.Kind = KindRateLimit
		}
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
		out.Kind = kindForStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		out.Kind = KindNetwork
	case isNetError(err):
		out.Kind = KindNetwork
	case isDecodeError(err), errors.Is(err, openai.ErrTooManyEmptyStreamMessages):
		out.Kind = KindMalformed
	default:
		out.Kind = KindNetwork
	}
	return out
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return KindAuth
	case status >= 500, status == http.StatusRequestTimeout:
		return KindNetwork
	case status >= 400:
		return KindMalformed
	default:
		return KindNetwork
	}
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// Malformed returns a KindMalformed error, used when a response decodes but violates the contract.
func Malformed(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindMalformed, Err: err}
}
