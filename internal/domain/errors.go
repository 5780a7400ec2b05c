package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrProductUnavailable      = errors.New("product unavailable")
	ErrAlreadyQueued           = errors.New("already queued for this product")
	ErrNotQueued               = errors.New("not queued for this product")
	ErrDuplicateItem           = errors.New("product already in want list")
	ErrItemNotFound            = errors.New("want list item not found")
	ErrQueueNotHeadForAllItems = errors.New("not first in queue for every item")
	ErrOwnProduct              = errors.New("sellers cannot queue for their own products")
	ErrEmptyWantList           = errors.New("want list has no items")
	ErrWantListClosed          = errors.New("want list is no longer active")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// ErrBusy means a lock could not be acquired in time. It is the only retryable error.
	ErrBusy = errors.New("resource busy, try again")
)

// ConflictError is returned when a status transition is requested against a
// product whose current status differs from the expected one.
type ConflictError struct {
	ProductID string
	Expected  ProductStatus
	Actual    ProductStatus
	Next      ProductStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product %s: cannot move %s -> %s, status is %s", e.ProductID, e.Expected, e.Next, e.Actual)
}

// InvariantError reports persisted state that no coordinator transaction could
// have produced, such as a gap in queue positions. It is never repaired in place.
type InvariantError struct {
	ProductID string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated for product %s: %s", e.ProductID, e.Detail)
}

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusiness
	KindNotFound
	KindForbidden
	KindBusy
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBusy:
		return "busy"
	case KindInvariant:
		return "invariant"
	}
	return "internal"
}

// KindOf classifies err into the error taxonomy. Unknown errors are internal.
func KindOf(err error) Kind {
	var conflict *ConflictError
	var invariant *InvariantError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &invariant):
		return KindInvariant
	case errors.As(err, &conflict):
		return KindBusiness
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrItemNotFound), errors.Is(err, ErrNotQueued):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrAlreadyQueued),
		errors.Is(err, ErrDuplicateItem),
		errors.Is(err, ErrQueueNotHeadForAllItems),
		errors.Is(err, ErrOwnProduct),
		errors.Is(err, ErrEmptyWantList),
		errors.Is(err, ErrWantListClosed):
		return KindBusiness
	}
	return KindInternal
}
