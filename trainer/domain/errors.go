package domain

import "errors"

var (
	ErrInvalidOption = errors.New("invalid option")
)
