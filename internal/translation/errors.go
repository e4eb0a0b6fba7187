package translation

import (
	"fmt"
	"net/http"

	"rbt/internal/models"
)

// ServiceError represents errors from the translation service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewUnsupportedLanguageError(code string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUnsupportedLang,
		Message:    fmt.Sprintf("language '%s' cannot be translated to", code),
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewContentNotFoundError(book string, chapter int) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeContentNotFound,
		Message:    fmt.Sprintf("no source content found for %s chapter %d", book, chapter),
		StatusCode: http.StatusNotFound,
	}
}

func NewJobNotFoundError(jobID string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeJobNotFound,
		Message:    fmt.Sprintf("job '%s' not found", jobID),
		StatusCode: http.StatusNotFound,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
