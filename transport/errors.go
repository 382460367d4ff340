package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorPermanentRequest
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.ErrorAuth
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return core.ErrorTransientProvider
	default:
		return core.ErrorInternal
	}
}

// StatusError maps a non 2xx provider response onto the engine taxonomy.
// It returns nil for successful responses.
func StatusError(providerID string, res core.TransportResponse) error {
	if res.Successful() {
		return nil
	}
	message := fmt.Sprintf("%s responded %d", strings.TrimSpace(providerID), res.StatusCode)
	if detail := ProviderMessage(res.Body); detail != "" {
		message += ": " + detail
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return core.NewAuthError(providerID, message)
	case res.StatusCode == http.StatusTooManyRequests:
		return core.NewRateLimitedError(providerID, message)
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode >= 500:
		return core.NewTransientProviderError(providerID, message)
	default:
		return core.NewPermanentRequestError(providerID, "", message)
	}
}

// ProviderMessage extracts a human readable error message from a JSON
// provider error body.
func ProviderMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	for _, key := range []string{"message", "error_description", "error", "code"} {
		switch typed := payload[key].(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				return strings.TrimSpace(typed)
			}
		case map[string]any:
			if nested, ok := typed["message"].(string); ok && strings.TrimSpace(nested) != "" {
				return strings.TrimSpace(nested)
			}
		}
	}
	if errorsList, ok := payload["errors"].([]any); ok && len(errorsList) > 0 {
		if first, ok := errorsList[0].(map[string]any); ok {
			if message, ok := first["message"].(string); ok {
				return strings.TrimSpace(message)
			}
		}
	}
	return ""
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// RetryAfter parses a Retry-After header given as seconds or an HTTP date.
func RetryAfter(headers map[string]string, now time.Time) time.Duration {
	raw := strings.TrimSpace(HeaderValue(headers, "Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if delay := at.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}
