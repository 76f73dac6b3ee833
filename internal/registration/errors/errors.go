package errors

import (
	"fmt"
)

var (
	ErrNotFound           = fmt.Errorf("not found")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrAlreadyRegistered  = fmt.Errorf("already registered")
	ErrDuplicateCode      = fmt.Errorf("duplicate code")
	ErrDuplicateName      = fmt.Errorf("duplicate name")
	ErrGroupFull          = fmt.Errorf("group full")
	ErrGroupClosed        = fmt.Errorf("group closed")
	ErrRegistrationClosed = fmt.Errorf("registration closed")
	ErrCodeExhausted      = fmt.Errorf("code space exhausted")
	ErrConflict           = fmt.Errorf("conflict")
)
