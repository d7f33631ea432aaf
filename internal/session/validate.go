package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for names that cannot be used as a directory.
var ErrInvalidName = errors.New("invalid session name")

// Names start with a letter or digit so they never read as a flag.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: want lowercase letters, digits, '-' or '_', at most 64, not starting with a symbol", ErrInvalidName, name)
	}
	return nil
}
