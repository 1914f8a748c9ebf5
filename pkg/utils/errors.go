package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrMalformedURL     = errors.New("malformed URL")
	ErrFetchFailure     = errors.New("fetch failed") // Non-2xx or transport-level failure
	ErrOversizedOrEmpty = errors.New("content empty or over size limit")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrScopeViolation   = errors.New("URL not crawlable (scope/trap/query/extension)")
	ErrPersistence      = errors.New("persistence failure") // Stats file or frontier store write failed

	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, JSON)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrConfigValidation = errors.New("configuration validation error")
)

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrPersistence):
		// Persistence wraps the store-specific sentinel
		if errors.Is(err, ErrDatabase) {
			return "Persistence_Frontier"
		}
		return "Persistence_Stats"
	case errors.Is(err, ErrMalformedURL):
		return "URL_Malformed"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrOversizedOrEmpty):
		return "Content_OversizedOrEmpty"
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "RetryFailed_HTTPClient"
			}
			return "RetryFailed_Network"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"404", "403", "401", "429"} {
			if strings.Contains(errMsg, " "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrFetchFailure):
		return "Fetch_Failure"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls"), strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
