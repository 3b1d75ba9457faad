package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password; callers must not be able to tell which half failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken indicates a malformed token or a bad signature.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrSessionRevoked is returned when refresh-token reuse is detected and
	// the session family has been burned, or after an explicit logout.
	ErrSessionRevoked = errors.New("auth: session revoked")

	// ErrSessionPersistence means a token was minted but the store write that
	// should make it honourable did not durably land. The overall call fails:
	// a client must never receive a refresh token the server cannot honour.
	ErrSessionPersistence = errors.New("auth: session persistence failed")

	// ErrRefreshTokenStale is the store-level compare-and-set failure: the
	// stored slot no longer matches the expected previous value.
	ErrRefreshTokenStale = errors.New("auth: refresh token stale")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidEmail  = errors.New("auth: invalid email address")
	ErrWeakPassword  = errors.New("auth: password does not meet policy")
	ErrPasswordReuse = errors.New("auth: new password matches current password")
	ErrInvalidRole   = errors.New("auth: invalid role")
	ErrAdminKey      = errors.New("auth: admin key missing or invalid")
	ErrResetCode     = errors.New("auth: invalid or expired reset code")
)
