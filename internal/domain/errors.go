package domain

import (
	"errors"
	"fmt"
)

// Engine error conditions. Callers match them with errors.Is.
var (
	// ErrNotTrained is returned by predict and save before any fit or load.
	ErrNotTrained = errors.New("model not trained")

	// ErrNotTrainable is returned when the training set is empty or single-class.
	ErrNotTrainable = errors.New("training set not trainable")

	// ErrMalformedInput is returned for missing or invalid input fields.
	ErrMalformedInput = errors.New("malformed input")

	// ErrArtifactCorrupt is returned when a model artifact cannot be loaded.
	ErrArtifactCorrupt = errors.New("model artifact corrupt")

	// ErrNotFitted is returned when a preprocessor is applied before fit.
	ErrNotFitted = errors.New("preprocessor not fitted")
)

// InputError names the field that made an input malformed.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrMalformedInput, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedInput.
func (e *InputError) Unwrap() error {
	return ErrMalformedInput
}

// FieldOf returns the offending field of a malformed-input error, if any.
func FieldOf(err error) string {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie.Field
	}
	return ""
}
