package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuth                  = "AUTH_ERROR"
	ErrorTransientProvider     = "TRANSIENT_PROVIDER_ERROR"
	ErrorPermanentRequest      = "PERMANENT_REQUEST_ERROR"
	ErrorOutcomeUnknown        = "OUTCOME_UNKNOWN"
	ErrorProviderNotFound      = "PROVIDER_NOT_FOUND"
	ErrorCapabilityUnsupported = "CAPABILITY_UNSUPPORTED"
	ErrorInternal              = "INTERNAL_ERROR"
)

// ReasonRateLimited is the metadata reason of a transient error caused by
// provider throttling.
const ReasonRateLimited = "rate_limited"

func NewAuthError(providerID string, message string) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryAuth, ErrorAuth, providerID, nil)
}

func NewTransientProviderError(providerID string, message string) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryExternal, ErrorTransientProvider, providerID, nil)
}

// NewRateLimitedError reports a provider 429. It is a transient provider
// error tagged with ReasonRateLimited.
func NewRateLimitedError(providerID string, message string) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryRateLimit, ErrorTransientProvider, providerID, map[string]any{"reason": ReasonRateLimited})
}

func WrapRateLimitedError(err error, providerID string, message string) *goerrors.Error {
	wrapped := WrapProviderError(err, providerID, ErrorTransientProvider, message)
	if wrapped == nil {
		return nil
	}
	wrapped.Category = goerrors.CategoryRateLimit
	return wrapped.WithMetadata(map[string]any{"reason": ReasonRateLimited})
}

// IsRateLimited reports whether err is a transient error caused by
// throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	mapped := MapError(err)
	return mapped.TextCode == ErrorTransientProvider && mapped.Metadata["reason"] == ReasonRateLimited
}

// NewOutcomeUnknownError marks a money movement whose result could not be
// observed. Retrying is only safe with the same request id.
func NewOutcomeUnknownError(providerID string, requestID string, message string) *goerrors.Error {
	extra := map[string]any{}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		extra["request_id"] = requestID
	}
	return newEngineError(message, goerrors.CategoryExternal, ErrorOutcomeUnknown, providerID, extra)
}

func NewProviderNotFoundError(providerID string) *goerrors.Error {
	return newEngineError("provider \""+strings.TrimSpace(providerID)+"\" is not registered", goerrors.CategoryNotFound, ErrorProviderNotFound, providerID, nil)
}

func NewCapabilityUnsupportedError(providerID string, capability Capability) *goerrors.Error {
	return newEngineError(
		"provider \""+strings.TrimSpace(providerID)+"\" does not support "+string(capability),
		goerrors.CategoryOperation,
		ErrorCapabilityUnsupported,
		providerID,
		map[string]any{"capability": string(capability)},
	)
}

// NewPermanentRequestError names the violated precondition through field.
func NewPermanentRequestError(providerID string, field string, message string) *goerrors.Error {
	extra := map[string]any{}
	if field = strings.TrimSpace(field); field != "" {
		extra["field"] = field
	}
	return newEngineError(message, goerrors.CategoryBadInput, ErrorPermanentRequest, providerID, extra)
}

func newEngineError(message string, category goerrors.Category, textCode string, providerID string, extra map[string]any) *goerrors.Error {
	metadata := make(map[string]any, len(extra)+1)
	for key, value := range extra {
		metadata[key] = value
	}
	if providerID = strings.TrimSpace(providerID); providerID != "" {
		metadata["provider_id"] = providerID
	}
	return goerrors.New(strings.TrimSpace(message), category).
		WithTextCode(textCode).
		WithCode(httpStatusForTextCode(textCode, category)).
		WithMetadata(metadata)
}

// WrapProviderError wraps a cause under one of the engine error kinds.
func WrapProviderError(err error, providerID string, textCode string, message string) *goerrors.Error {
	if err == nil {
		return nil
	}
	category := categoryForTextCode(textCode)
	metadata := map[string]any{}
	if providerID = strings.TrimSpace(providerID); providerID != "" {
		metadata["provider_id"] = providerID
	}
	return goerrors.Wrap(err, category, strings.TrimSpace(message)).
		WithTextCode(textCode).
		WithCode(httpStatusForTextCode(textCode, category)).
		WithMetadata(metadata)
}

// ErrorKind returns the text code of an engine error. Plain errors are
// INTERNAL_ERROR.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	return MapError(err).TextCode
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return MapError(err).Code
}

func IsKind(err error, textCode string) bool {
	return err != nil && ErrorKind(err) == textCode
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	switch ErrorKind(err) {
	case ErrorTransientProvider:
		return true
	default:
		return false
	}
}

// MapError normalizes any error into an engine envelope error.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryExternal, "provider call timed out").
			WithTextCode(ErrorTransientProvider))
	}

	// Plain errors carry no kind and are internal, whatever their message.
	return ensureErrorEnvelope(goerrors.MapToError(err, nil))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Code == 0 {
		err.Code = httpStatusForTextCode(err.TextCode, err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorPermanentRequest
	case goerrors.CategoryNotFound:
		return ErrorProviderNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuth
	case goerrors.CategoryOperation:
		return ErrorCapabilityUnsupported
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return ErrorTransientProvider
	default:
		return ErrorInternal
	}
}

func categoryForTextCode(textCode string) goerrors.Category {
	switch textCode {
	case ErrorAuth:
		return goerrors.CategoryAuth
	case ErrorPermanentRequest:
		return goerrors.CategoryBadInput
	case ErrorProviderNotFound:
		return goerrors.CategoryNotFound
	case ErrorCapabilityUnsupported:
		return goerrors.CategoryOperation
	case ErrorTransientProvider, ErrorOutcomeUnknown:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

func httpStatusForTextCode(textCode string, category goerrors.Category) int {
	switch textCode {
	case ErrorAuth:
		return http.StatusUnauthorized
	case ErrorTransientProvider:
		return http.StatusBadGateway
	case ErrorPermanentRequest:
		return http.StatusBadRequest
	case ErrorOutcomeUnknown:
		return http.StatusGatewayTimeout
	case ErrorProviderNotFound:
		return http.StatusNotFound
	case ErrorCapabilityUnsupported:
		return http.StatusNotImplemented
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
