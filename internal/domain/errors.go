package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeContent            = "CONTENT_ERROR"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeInvalidOperation   = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidChunkMethod     = NewDomainError(ErrCodeValidation, "invalid chunking method")
	ErrInvalidIngestionStatus = NewDomainError(ErrCodeValidation, "invalid ingestion status")
	ErrEmptyQuery             = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrEmptyMessage           = NewDomainError(ErrCodeValidation, "message must not be empty")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound  = NewDomainError(ErrCodeNotFound, "document not found")
	ErrIngestionNotFound = NewDomainError(ErrCodeNotFound, "ingestion job not found")
	ErrChunkNotFound     = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrSessionNotFound   = NewDomainError(ErrCodeNotFound, "chat session not found")
)

// Content errors: terminal conditions reported as a distinct status, never retried
var (
	ErrScannedPDF      = NewDomainError(ErrCodeContent, "document appears to be a scanned PDF")
	ErrEmptyDocument   = NewDomainError(ErrCodeContent, "document contains no extractable text")
	ErrUnsupportedMime = NewDomainError(ErrCodeContent, "unsupported document type")
)

// Credential errors from the answer model, distinguished missing vs invalid
var (
	ErrMissingAPIKey = NewDomainError(ErrCodeMissingCredentials, "answer model API key is not configured")
	ErrInvalidAPIKey = NewDomainError(ErrCodeInvalidCredentials, "answer model API key was rejected")
)

// Resource and availability errors
var (
	ErrMemoryCeiling       = NewDomainError(ErrCodeResourceExhausted, "memory ceiling exceeded during embedding")
	ErrVectorStoreDown     = NewDomainError(ErrCodeUnavailable, "vector store unavailable")
	ErrDocumentExists      = NewDomainError(ErrCodeAlreadyExists, "document with identical content already exists")
	ErrIngestionInProgress = NewDomainError(ErrCodeInvalidOperation, "ingestion already running for this document and method")
)
