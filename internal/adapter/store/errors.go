package store

import (
	"context"
	"errors"
	"fmt"

	"kbagent/internal/domain"
)

// storeErr tags a backend failure with ErrStore. Context cancellation and
// errors already carrying a domain sentinel pass through unchanged.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStore, op, err)
}
