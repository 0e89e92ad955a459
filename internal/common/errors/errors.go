// Package errors provides a small wrapped-error helper shared across
// driftwatch components.
package errors

import "fmt"

// WrapError wraps err with a leading message, preserving it for errors.Is/As.
func WrapError(err error, message string) error {
	if err == nil {
		return fmt.Errorf("%s: <nil>", message)
	}
	return fmt.Errorf("%s: %w", message, err)
}
