package transcription

import (
	"fmt"
)

// PreconditionError reports a call made out of order, e.g. Transcribe
// before Prepare. It is a programming error and is never recovered.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// ConnectionError reports a failed streaming connection attempt. Sessions
// absorb it and fall back to batch transcription.
type ConnectionError struct {
	Model string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("streaming connection for %s failed: %v", e.Model, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FinalizeError reports a connected stream that could not produce its
// final text. Handled like ConnectionError.
type FinalizeError struct {
	Err error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("failed to finalize stream: %v", e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

// BatchError is the terminal failure of a session: the batch transcriber
// failed, either as the only path or as the fallback.
type BatchError struct {
	Model string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch transcription with %s failed: %v", e.Model, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
