package persistence

import (
	"errors"

	"guard_server/pkg/apperr"
)

// Common persistence errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// storeErr tags a driver error with the store it came from.
func storeErr(store string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.StoreError(store, err)
}
