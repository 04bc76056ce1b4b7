package errors

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Class is the bookkeeping classification of a node failure.
type Class string

const (
	ClassNotFound         Class = "not_found"
	ClassValidation       Class = "validation"
	ClassTransientNetwork Class = "transient_network"
	ClassUnknown          Class = "unknown"
)

// Coded is implemented by errors that carry their own diagnostic code.
type Coded interface {
	Code() string
}

// CodeOf returns the diagnostic code carried by err or anything it wraps.
func CodeOf(err error) (string, bool) {
	var coded Coded
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code, true
		}
	}
	return "", false
}

// Classify maps err onto the node-failure classes.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return ClassNotFound
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return ClassValidation
	}

	var stateErr *StateExtractionFailure
	if errors.As(err, &stateErr) {
		return ClassValidation
	}

	var server *ServerError
	if errors.As(err, &server) {
		return ClassTransientNetwork
	}

	var network *NetworkError
	if errors.As(err, &network) {
		return ClassTransientNetwork
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return ClassTransientNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusNotFound:
			return ClassNotFound
		case httpErr.StatusCode == http.StatusBadRequest,
			httpErr.StatusCode == http.StatusUnprocessableEntity:
			return ClassValidation
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode >= 500:
			return ClassTransientNetwork
		}
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransientNetwork
	}

	return ClassUnknown
}
