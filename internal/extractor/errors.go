package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedConstruct is matched with errors.Is by callers that only
// care about the category.
var ErrUnsupportedConstruct = errors.New("unsupported construct")

// UnsupportedConstructError reports that a unit contains constructs outside
// the analyzable subset. The unit must be excluded, never silently skipped.
type UnsupportedConstructError struct {
	Unit       string
	Constructs []string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s: unsupported constructs: %s", e.Unit, strings.Join(e.Constructs, ", "))
}

func (e *UnsupportedConstructError) Unwrap() error { return ErrUnsupportedConstruct }

// CheckSupported returns an UnsupportedConstructError for units that carry
// any unsupported construct.
func CheckSupported(u *CodeUnit) error {
	if u.Supported() {
		return nil
	}
	return &UnsupportedConstructError{
		Unit:       u.Name,
		Constructs: append([]string(nil), u.Unsupported...),
	}
}
