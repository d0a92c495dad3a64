package model

import (
	"errors"

	"github.com/Brownie44l1/asl-api/internal/preprocess"
)

var (
	// ErrArtifact means the model file or its metadata is missing, unreadable,
	// corrupt or rejected by the backend. It is fatal at startup.
	ErrArtifact = errors.New("model artifact error")

	// ErrDecode means an upload was not a valid image. It is reported to the
	// caller; no inference runs.
	ErrDecode = preprocess.ErrDecode

	// ErrShapeMismatch means a tensor did not match the classifier contract.
	// It indicates a programming error, never bad user input.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// ErrorKind names the category of err for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrArtifact):
		return "artifact"
	default:
		return "inference"
	}
}
