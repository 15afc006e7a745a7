package relstore

import "errors"

var (
	ErrTransactionNotFound = errors.New("relstore: transaction not found")
	ErrBlockNotFound       = errors.New("relstore: block not found")
	ErrValidatorNotFound   = errors.New("relstore: validator not found")
)
