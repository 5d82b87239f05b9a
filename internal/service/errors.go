package service

import "errors"

var (
	ErrInvalidURL      = errors.New("destination url is invalid")
	ErrUnreachableURL  = errors.New("destination url is not reachable")
	ErrInvalidAlias    = errors.New("alias is invalid")
	ErrAliasTaken      = errors.New("alias is already taken")
	ErrAmbiguousExpiry = errors.New("expires_at and max_clicks cannot be combined")
	ErrInvalidExpiry   = errors.New("expiry must be a future timestamp")
	ErrInvalidClicks   = errors.New("max_clicks must be positive")
	ErrPasswordMissing = errors.New("protecting a link requires a password")

	ErrNotFound         = errors.New("link not found")
	ErrExpired          = errors.New("link has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrWrongPassword    = errors.New("wrong password")
	ErrTooManyAttempts  = errors.New("too many failed password attempts")

	ErrCodeExhausted   = errors.New("could not allocate a unique code")
	ErrVersionNotFound = errors.New("version not found")
	ErrCurrentVersion  = errors.New("the current version cannot be deleted")
)
