package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names a failure category as reported to callers.
type Kind string

const (
	KindValidation             Kind = "ValidationError"
	KindProductUnavailable     Kind = "ProductUnavailable"
	KindOutOfStock             Kind = "OutOfStock"
	KindItemsUnavailable       Kind = "ItemsUnavailable"
	KindConflictRetryExhausted Kind = "ConflictRetryExhausted"
	KindTransactionTimeout     Kind = "TransactionTimeout"
	KindStorageUnavailable     Kind = "StorageUnavailable"
	KindRequestCanceled        Kind = "RequestCanceled"
	KindInternal               Kind = "InternalError"
)

var (
	ErrValidation             = errors.New("invalid checkout request")
	ErrOutOfStock             = errors.New("out of stock")
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrConflictRetryExhausted = errors.New("too many concurrent updates, try again")
	ErrTransactionTimeout     = errors.New("checkout timed out")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrCanceled               = errors.New("checkout canceled by caller")
)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ItemFailure explains why one product could not be fulfilled.
type ItemFailure struct {
	ProductID string `json:"product_id"`
	Reason    Kind   `json:"reason"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// StockError carries every failing item of an aborted checkout, in request order.
type StockError struct {
	Failures []ItemFailure
}

func (e *StockError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		if f.Reason == KindOutOfStock {
			parts[i] = fmt.Sprintf("%s out of stock (available %d, requested %d)", f.ProductID, f.Available, f.Requested)
		} else {
			parts[i] = fmt.Sprintf("%s unavailable", f.ProductID)
		}
	}
	return "items unavailable: " + strings.Join(parts, ", ")
}

func (e *StockError) Is(target error) bool {
	for _, f := range e.Failures {
		if target == ErrOutOfStock && f.Reason == KindOutOfStock {
			return true
		}
		if target == ErrProductUnavailable && f.Reason == KindProductUnavailable {
			return true
		}
	}
	return false
}

// Kind is OutOfStock or ProductUnavailable when all failures agree,
// ItemsUnavailable otherwise.
func (e *StockError) Kind() Kind {
	if len(e.Failures) == 0 {
		return KindItemsUnavailable
	}
	kind := e.Failures[0].Reason
	for _, f := range e.Failures[1:] {
		if f.Reason != kind {
			return KindItemsUnavailable
		}
	}
	return kind
}

// KindOf classifies err for reporting.
func KindOf(err error) Kind {
	var stockErr *StockError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.As(err, &stockErr):
		return stockErr.Kind()
	case errors.Is(err, ErrConflictRetryExhausted):
		return KindConflictRetryExhausted
	case errors.Is(err, ErrTransactionTimeout):
		return KindTransactionTimeout
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return KindRequestCanceled
	}
	return KindInternal
}

// Retryable reports whether the caller may resubmit the same checkout later.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflictRetryExhausted) ||
		errors.Is(err, ErrTransactionTimeout) ||
		errors.Is(err, ErrStorageUnavailable)
}
