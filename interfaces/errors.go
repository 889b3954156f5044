package interfaces

import "errors"

var (
	// ErrSealed is returned when an operation is attempted before the
	// barrier has been unsealed.
	ErrSealed = errors.New("barrier is sealed")

	// ErrUnauthorized is returned when a request carries a missing or
	// unknown token.
	ErrUnauthorized = errors.New("missing or invalid token")

	// ErrForbidden is returned when the token lacks the capability required
	// for the operation, or an explicit deny rule matched the path.
	ErrForbidden = errors.New("permission denied")

	// ErrNotFound is returned when a key, mount, policy, or token does not
	// exist. A deleted entry reads back as ErrNotFound, never as an empty
	// value.
	ErrNotFound = errors.New("not found")

	// ErrInvalidShare is returned for a malformed, duplicate, or forged
	// unseal share, and when the reconstructed key fails its integrity
	// check.
	ErrInvalidShare = errors.New("invalid unseal share")

	// ErrAlreadyInitialized is returned when initialization is attempted on
	// a store that already holds a seal configuration.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrIntegrity is returned when barrier decryption fails to
	// authenticate, indicating tampered ciphertext or a wrong key.
	ErrIntegrity = errors.New("ciphertext integrity check failed")

	// ErrStorage is returned when a physical or metadata backend fails.
	// Storage failures propagate to the caller; secret mutations are never
	// silently retried.
	ErrStorage = errors.New("storage backend failure")

	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("invalid request")
)
