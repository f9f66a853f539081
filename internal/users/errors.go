package users

import "errors"

var (
	ErrInvalidInput = errors.New("users: invalid input")
	ErrNoToken      = errors.New("users: login response carried no token")
	ErrUserExists   = errors.New("users: user already exists")
)
