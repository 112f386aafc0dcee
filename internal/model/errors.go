package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks user input rejected before it reaches storage.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
