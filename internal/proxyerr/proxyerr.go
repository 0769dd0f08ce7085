// Package proxyerr defines the error taxonomy surfaced on the Ollama-facing
// API and the classification helpers used to recover from transient upstream
// failures.
package proxyerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindModelNotFound
	KindNotImplemented
	KindUpstreamUnavailable
	KindUpstreamProtocol
	KindCancelled
	// Upstream rejected the request with an arbitrary status; the original
	// status and message are preserved for passthrough and load detection.
	KindUpstream
)

type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, status int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return New(KindInvalidRequest, http.StatusBadRequest, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindModelNotFound, http.StatusNotFound, format, args...)
}

func NotImplemented(format string, args ...interface{}) *Error {
	return New(KindNotImplemented, http.StatusNotImplemented, format, args...)
}

func Unavailable(format string, args ...interface{}) *Error {
	return New(KindUpstreamUnavailable, http.StatusBadGateway, format, args...)
}

func Protocol(format string, args ...interface{}) *Error {
	return New(KindUpstreamProtocol, http.StatusBadGateway, format, args...)
}

func Internal(format string, args ...interface{}) *Error {
	return New(KindInternal, http.StatusInternalServerError, format, args...)
}

// StatusCancelled is the nginx-style status for a closed client connection.
const StatusCancelled = 499

func Cancelled() *Error {
	return New(KindCancelled, StatusCancelled, "request cancelled by client")
}

// Upstream wraps an error body returned by LM Studio, keeping the original
// status so passthrough responses and load-hint detection see it unchanged.
func Upstream(status int, message string) *Error {
	return New(KindUpstream, status, "%s", message)
}

// FromTransport classifies a transport-level failure from the upstream client.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled()
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return Unavailable("LM Studio not available: %v", ue.Err)
		}
		var oe *net.OpError
		if errors.As(ue.Err, &oe) {
			return Unavailable("LM Studio not available: %v", oe)
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Unavailable("LM Studio not available: %v", ne)
	}
	return Internal("LM Studio request failed: %v", err)
}

func IsCancelled(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindCancelled
}

func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindUpstreamUnavailable
}

// StatusOf maps any error to the HTTP status rendered on the Ollama surface.
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}

var loadingIndicators = []string{
	"loading model",
	"model loading",
	"model is loading",
	"loading the model",
	"model not loaded",
	"not loaded",
	"model unavailable",
	"model not available",
	"model not found",
	"no model",
	"invalid model",
	"unknown model",
	"failed to load",
	"loading failed",
	"model error",
	"is not embedding",
	"model initialization",
	"initializing model",
	"warming up model",
	"model startup",
	"preparing model",
	"model not ready",
}

var loadingFallbackPatterns = []string{
	"service unavailable",
	"server error",
	"internal error",
	"timeout",
	"connection",
	"503",
	"500",
}

// IsModelLoadingError reports whether an upstream error message looks like a
// "model not loaded" condition worth a JIT load attempt. LM Studio phrases
// these inconsistently across versions, hence the substring heuristics.
func IsModelLoadingError(message string) bool {
	lower := strings.ToLower(message)

	for _, pattern := range loadingIndicators {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	hasNegative := false
	for _, word := range []string{"no", "not", "missing", "invalid", "unknown", "failed", "unavailable", "unreachable"} {
		if strings.Contains(lower, word) {
			hasNegative = true
			break
		}
	}

	hasModelRef := false
	for _, word := range []string{"model", "load", "available", "ready", "initialize"} {
		if strings.Contains(lower, word) {
			hasModelRef = true
			break
		}
	}

	if hasNegative && hasModelRef {
		return true
	}

	for _, pattern := range loadingFallbackPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
