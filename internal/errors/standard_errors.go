// Package errors provides the tagged error taxonomy used across the
// reconciliation pipeline so every stage fails in a way callers can branch
// on without parsing message strings.
package errors

import (
	"fmt"
	"time"
)

// Code is one of the six semantic failure kinds a pipeline run can end in.
type Code string

const (
	// CodeConfigInvalid marks a configuration problem caught before any
	// network call is made: contradictory chunking parameters, a missing
	// dataset id, an unsupported backend name.
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// CodeDatasetUnavailable marks a failure reading the upstream dataset.
	CodeDatasetUnavailable Code = "DATASET_UNAVAILABLE"

	// CodeEmbeddingFailed marks a failure from the embedding provider.
	CodeEmbeddingFailed Code = "EMBEDDING_FAILED"

	// CodeBackendUnreachable marks a transport-level failure talking to the
	// vector store (connection refused, DNS failure, TLS handshake).
	CodeBackendUnreachable Code = "BACKEND_UNREACHABLE"

	// CodeBackendOperationFailed marks a vector store that was reachable but
	// rejected or failed an individual operation.
	CodeBackendOperationFailed Code = "BACKEND_OPERATION_FAILED"

	// CodePartialFailure marks a run that completed with some chunks
	// reconciled and others failed.
	CodePartialFailure Code = "PARTIAL_FAILURE"
)

// PipelineError is the error type every pipeline stage returns once it has
// classified a failure into one of the six Code values.
type PipelineError struct {
	Code    Code
	Stage   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// New builds a PipelineError for the given stage and code.
func New(code Code, stage, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Cause: cause}
}

// ConfigInvalid is a convenience constructor used by config validation.
func ConfigInvalid(field, reason string) *PipelineError {
	return New(CodeConfigInvalid, "config", fmt.Sprintf("%s: %s", field, reason), nil)
}

// DatasetUnavailable wraps a dataset read failure.
func DatasetUnavailable(datasetID string, cause error) *PipelineError {
	return New(CodeDatasetUnavailable, "dataset", fmt.Sprintf("dataset %q unavailable", datasetID), cause)
}

// EmbeddingFailed wraps an embedding provider failure.
func EmbeddingFailed(provider string, cause error) *PipelineError {
	return New(CodeEmbeddingFailed, "embeddings", fmt.Sprintf("provider %q failed", provider), cause)
}

// BackendUnreachable wraps a transport-level vector store failure.
func BackendUnreachable(backend string, cause error) *PipelineError {
	return New(CodeBackendUnreachable, "vectorstore", fmt.Sprintf("backend %q unreachable", backend), cause)
}

// BackendOperationFailed wraps a rejected or failed vector store operation.
func BackendOperationFailed(backend, op string, cause error) *PipelineError {
	return New(CodeBackendOperationFailed, "vectorstore", fmt.Sprintf("backend %q operation %q failed", backend, op), cause)
}

// PartialFailure summarizes a run where some chunks reconciled and others
// did not.
func PartialFailure(succeeded, failed int, elapsed time.Duration) *PipelineError {
	return New(CodePartialFailure, "reconcile",
		fmt.Sprintf("%d succeeded, %d failed in %s", succeeded, failed, elapsed), nil)
}

// Classify maps an arbitrary error into its Code, defaulting to
// BACKEND_OPERATION_FAILED for errors that were never tagged — the engine
// should tag errors at the source, so this is a last-resort fallback, not
// the normal path.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if ok := asPipelineError(err, &pe); ok {
		return pe.Code
	}
	return CodeBackendOperationFailed
}

func asPipelineError(err error, target **PipelineError) bool {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
