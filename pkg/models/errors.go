package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTerm            = errors.New("invalid term")
	ErrDuplicateActiveCredit  = errors.New("client already has an active credit")
	ErrInstallmentAlreadyPaid = errors.New("installment already paid")
	ErrInsufficientAmount     = errors.New("amount tendered is less than the installment value")
	ErrCreditNotFound         = errors.New("credit not found")
	ErrCreditNotActive        = errors.New("credit is not active")
	ErrStorageFailure         = errors.New("storage failure")

	ErrInstallmentNotFound = errors.New("installment not found")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrSaleAlreadyCredited = errors.New("sale already has a credit")
	ErrSaleVoided          = errors.New("sale is voided")
	ErrSaleNotCredit       = errors.New("sale is not a credit sale")
	ErrSaleClientMismatch  = errors.New("sale belongs to another client")
	ErrClientNotFound      = errors.New("client not found")
)

// ValidationError attaches details to one of the sentinel errors above.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError for err with formatted details.
func Invalid(err error, format string, args ...any) error {
	return &ValidationError{Err: err, Details: fmt.Sprintf(format, args...)}
}

// StorageError wraps a persistence failure. errors.Is(err, ErrStorageFailure) holds
// for every StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageFailure.Error(), e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

var domainErrors = []error{
	ErrInvalidAmount, ErrInvalidTerm, ErrDuplicateActiveCredit, ErrInstallmentAlreadyPaid,
	ErrInsufficientAmount, ErrCreditNotFound, ErrCreditNotActive, ErrStorageFailure,
	ErrInstallmentNotFound, ErrSaleNotFound, ErrSaleAlreadyCredited, ErrSaleVoided,
	ErrSaleNotCredit, ErrSaleClientMismatch, ErrClientNotFound,
}

// IsDomainError reports whether err already carries one of the engine's error kinds.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// WrapStorage leaves domain errors untouched and wraps anything else in a StorageError.
func WrapStorage(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
