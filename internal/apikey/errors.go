package apikey

import "errors"

var (
	ErrInvalidCredential = errors.New("apikey: invalid credential")
	ErrExpired           = errors.New("apikey: credential expired")
	ErrRevoked           = errors.New("apikey: credential revoked")
	ErrDomainNotAllowed  = errors.New("apikey: domain not allowed")
	ErrNotFound          = errors.New("apikey: credential not found")
)
