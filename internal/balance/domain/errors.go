package balance

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMoment is returned when the moment string is blank.
	ErrEmptyMoment = errors.New("balance: empty moment")
	// ErrMissingSeriesData marks a tracked series without a record as of the moment.
	ErrMissingSeriesData = errors.New("balance: missing series data")
	// ErrNilStore is returned when a service is built without a store.
	ErrNilStore = errors.New("balance: nil store")
	// ErrMalformedRecord is returned when a store yields an unusable record.
	ErrMalformedRecord = errors.New("balance: malformed record")
)

// ParseError reports a moment string that cannot be read as a date/time.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("balance: cannot parse moment %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StoreError reports an unreachable store or malformed data coming from it.
type StoreError struct {
	Series string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Series == "" {
		return fmt.Sprintf("balance: store error: %v", e.Err)
	}
	return fmt.Sprintf("balance: store error on series %s: %v", e.Series, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsParseError reports whether err carries a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}
