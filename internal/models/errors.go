package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrDuplicate         = errors.New("duplicate record")
	ErrAccountInactive   = errors.New("account not active")
)
