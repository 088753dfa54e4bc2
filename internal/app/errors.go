package app

import "fmt"

// DomainError is a business-rule violation carrying the HTTP status and a
// stable machine-readable code. mapError surfaces it verbatim at the HTTP
// boundary; any other error becomes a generic 500.
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

// Shorthands for the three codes that dominate the service layer.

func errForbidden(message string) *DomainError {
	return domainError(403, "FORBIDDEN", message, nil)
}

func errNotFound(message string, details any) *DomainError {
	return domainError(404, "NOT_FOUND", message, details)
}

func errValidation(message string, details any) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, details)
}
