// Package errs contains sentinel errors shared by the store, storage and service layers.
package errs

import "errors"

var (
	// ErrNotFound indicates the referenced document, group or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration indicates the event catalog source is missing or malformed.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedMediaType indicates an image payload outside the allowed MIME set.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrStorageTransfer indicates an object storage put/get/delete failure.
	ErrStorageTransfer = errors.New("storage transfer failed")

	// ErrSchemaGeneration indicates the form schema could not be produced.
	ErrSchemaGeneration = errors.New("schema generation failed")

	// ErrVersionConflict indicates another writer already took the version number.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a user name that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates a malformed client payload.
	ErrInvalidInput = errors.New("invalid input")
)
