package localsave

import (
	"errors"
	"fmt"

	"github.com/stackvity/localsave/internal/codec"
)

var (
	// ErrInvalidArgument reports an empty directory or file name.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVerification is wrapped by every *VerificationError.
	ErrVerification = errors.New("verification failed")

	// ErrWriteFailure reports a temp file that is missing after being written.
	ErrWriteFailure = errors.New("write failure")

	// ErrNotFound reports a target or backup file that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrDecode reports bytes the codec could not turn back into a value.
	ErrDecode = codec.ErrDecode
)

// Stage identifies when a verification ran.
type Stage string

const (
	StageBeforeReplacement Stage = "before replacement"
	StageAfterReplacement  Stage = "after replacement"
)

// VerificationError describes a read-back that differs from the encoded
// bytes. Index is the first differing byte, or -1 when the lengths differ.
type VerificationError struct {
	Stage    Stage
	Path     string
	Index    int
	Expected int
	Actual   int
}

func (e *VerificationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("failed to verify '%s' %s: length %d, expected %d", e.Path, e.Stage, e.Actual, e.Expected)
	}
	return fmt.Sprintf("failed to verify '%s' %s at index %d", e.Path, e.Stage, e.Index)
}

func (e *VerificationError) Unwrap() error { return ErrVerification }

// LengthMismatch reports whether the read-back had a different length.
func (e *VerificationError) LengthMismatch() bool { return e.Index < 0 }

func verifyBytes(stage Stage, path string, want, got []byte) error {
	if len(want) != len(got) {
		return &VerificationError{Stage: stage, Path: path, Index: -1, Expected: len(want), Actual: len(got)}
	}
	for i := range want {
		if want[i] != got[i] {
			return &VerificationError{Stage: stage, Path: path, Index: i, Expected: len(want), Actual: len(got)}
		}
	}
	return nil
}

// recoverError turns a panic raised inside a codec or a record's own
// marshaller into an ordinary error.
func recoverError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("recovered from panic: %v", r)
	}
}
