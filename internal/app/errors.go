package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vitalik-svt/tomata/internal/auth"
	"github.com/vitalik-svt/tomata/internal/errs"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError turns a service error into the HTTP status and body code the client sees.
// Server-side failures never leak the wrapped message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, errs.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", err.Error(), nil
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil
	case errors.Is(err, errs.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Version was taken by a concurrent save", nil
	case errors.Is(err, errs.ErrConfiguration):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR", "Event catalog is unavailable", nil
	case errors.Is(err, errs.ErrStorageTransfer):
		return http.StatusInternalServerError, "STORAGE_ERROR", "Image storage failed", nil
	case errors.Is(err, errs.ErrSchemaGeneration):
		return http.StatusInternalServerError, "SCHEMA_ERROR", "Schema generation failed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
