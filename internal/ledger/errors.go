package ledger

import "errors"

// Code is a machine-readable ledger failure kind.
type Code string

const (
	CodeInsufficientPayment Code = "INSUFFICIENT_PAYMENT"
	CodeHashAlreadyExists   Code = "HASH_ALREADY_EXISTS"
	CodeOnlyOwner           Code = "ONLY_OWNER"
	CodeInvalidFileSize     Code = "INVALID_FILE_SIZE"
	// CodeTransferFailed is returned by Withdraw when the host refuses the
	// value transfer. It also matches ErrInsufficientPayment.
	CodeTransferFailed Code = "TRANSFER_FAILED"
	// CodeInsufficientFunds means the caller's deposited funds do not cover
	// the attached value.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	// CodeStorage reports a journal failure. The call had no effect.
	CodeStorage Code = "STORAGE"
)

// Error is a ledger failure with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code. A transfer failure
// also matches the insufficient payment kind it historically shared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.Code == CodeTransferFailed && t.Code == CodeInsufficientPayment
}

var (
	ErrInsufficientPayment = &Error{Code: CodeInsufficientPayment, Message: "insufficient payment"}
	ErrHashAlreadyExists   = &Error{Code: CodeHashAlreadyExists, Message: "hash already exists"}
	ErrOnlyOwner           = &Error{Code: CodeOnlyOwner, Message: "only owner"}
	ErrInvalidFileSize     = &Error{Code: CodeInvalidFileSize, Message: "invalid file size"}
	ErrTransferFailed      = &Error{Code: CodeTransferFailed, Message: "transfer failed"}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrStorage             = &Error{Code: CodeStorage, Message: "ledger storage failure"}
)

func wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the ledger code carried by err, or "" for foreign errors.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
