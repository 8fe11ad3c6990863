// Package cli validates operator-supplied identifiers before they
// travel into REST paths, file names or SQL rows.
package cli

import (
	"fmt"
	"regexp"

	apperrors "perpsim/pkg/errors"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidateSymbol checks an upcased exchange symbol for shape. The rest
// of the pipeline interpolates symbols into URLs and file names, so
// anything outside the plain alphanumeric form is rejected here.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: symbol %q must be 2-20 characters A-Z 0-9", apperrors.ErrInvalidParam, symbol)
	}
	return nil
}
