package wat

import (
	"errors"
	"fmt"
)

// ErrSyntax, ErrUnresolvedIdentifier, and ErrDuplicateIdentifier are the
// wat-package members of spec.md §7's error-kind taxonomy.
var (
	ErrSyntax               = errors.New("wat: syntax error")
	ErrUnresolvedIdentifier = errors.New("wat: unresolved identifier")
	ErrDuplicateIdentifier  = errors.New("wat: duplicate identifier")
)

func syntaxErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrSyntax}, args...)...)
}

func unresolvedErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnresolvedIdentifier}, args...)...)
}

func duplicateErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrDuplicateIdentifier}, args...)...)
}
