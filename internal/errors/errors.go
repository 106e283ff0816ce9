package errors

import "errors"

// Configuration and registry errors.
var (
	ErrNotFound      = errors.New("environment not found")
	ErrAlreadyExists = errors.New("environment already exists")
	ErrConfiguration = errors.New("invalid configuration")
)

// Credential and protocol errors.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrMalformedToken       = errors.New("malformed token")
	ErrTimeout              = errors.New("authorization timed out")
)

// ErrEncryptionUnavailable means the platform secret-encryption primitive
// cannot be used. This is fatal and requires operator intervention; it is
// never retried.
var ErrEncryptionUnavailable = errors.New("secret encryption unavailable")
