package models

import (
	"errors"
	"net/http"
)

var (
	// ErrServerShuttingDown is returned on submissions after shutdown began.
	ErrServerShuttingDown = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Server is shutting down"),
	}
	// ErrWorkerUnavailable is returned when a request was bound for a worker
	// that terminated before accepting it.
	ErrWorkerUnavailable = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Worker unavailable"),
	}
	// ErrRequestWaitTimeout is returned when no worker slot freed within the
	// configured request wait timeout.
	ErrRequestWaitTimeout = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Timed out waiting for a worker"),
	}
	// ErrPoolExhausted is returned under the oneshot policy once the single
	// worker has produced its outcome.
	ErrPoolExhausted = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Worker pool is exhausted"),
	}
	// ErrTooBusy is returned when admission is rate limited.
	ErrTooBusy = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Server too busy"),
	}
	// ErrConnectionLost is surfaced to callers whose in-flight request was cut
	// off by worker termination.
	ErrConnectionLost = err{
		code:  http.StatusServiceUnavailable,
		error: errors.New("Connection to worker lost"),
	}
	// ErrServiceBootFailure is the caller-visible form of a BootFailure outcome.
	ErrServiceBootFailure = err{
		code:  http.StatusBadGateway,
		error: errors.New("Service failed to start"),
	}
	// ErrServiceFailure is the caller-visible form of an UncaughtException outcome.
	ErrServiceFailure = err{
		code:  http.StatusBadGateway,
		error: errors.New("Service exited with an uncaught exception"),
	}
)

// APIError is any error that carries an HTTP status code, handlers return
// the code and the error message body verbatim.
type APIError interface {
	Code() int
	error
}

type err struct {
	code int
	error
}

func (e err) Code() int { return e.code }

func NewAPIError(code int, e error) APIError { return err{code, e} }

// ErrorBody is the uniform JSON error output.
type ErrorBody struct {
	Message string `json:"message"`
}

type Error struct {
	Error *ErrorBody `json:"error,omitempty"`
}
