package hue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// StatusError is a non-2xx response from the bridge.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "bridge status error"
	}
	return fmt.Sprintf("bridge %s status %d: %s", e.Endpoint, e.Status, e.Body)
}

// APIError is an error object returned inside a 200 response, the way the
// v1 API reports unauthorised keys and invalid resources.
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "bridge api error"
	}
	return fmt.Sprintf("bridge api error %d at %s: %s", e.Type, e.Address, e.Description)
}

// PayloadError marks a response or event body that could not be decoded.
type PayloadError struct {
	Resource string
	Err      error
}

func (e *PayloadError) Error() string {
	if e == nil {
		return "malformed payload"
	}
	return fmt.Sprintf("malformed %s payload: %v", e.Resource, e.Err)
}

func (e *PayloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether err is a transient connection failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == 429
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"broken pipe",
		"connection reset",
		"use of closed network connection",
		"connection refused",
		"timeout",
	} {
		if strings.Contains(message, fragment) {
			return true
		}
	}
	return false
}
