package domain

import "errors"

// Sentinel validation errors for types in this package. Callers that
// need the broader taxonomy wrap these with bridgeerr.KindConfigInvalid.
var (
	ErrEmptyDeviceID   = errors.New("device_id must not be empty")
	ErrInvalidDeviceID = errors.New("device_id contains forbidden characters")
)
