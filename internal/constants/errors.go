package constants

import "net/http"

// APIError represents a standardized API error with code, message, and HTTP status.
// Use these predefined errors for consistent API responses across the application.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// WithMessage returns a copy of the APIError with a custom message.
// Useful for validation errors or other dynamic messages.
func (e APIError) WithMessage(message string) APIError {
	return APIError{
		Code:    e.Code,
		Message: message,
		Status:  e.Status,
	}
}

// Common errors - shared across multiple modules
var (
	ErrInvalidRequestBody = APIError{
		Code:    CodeInvalidRequest,
		Message: MsgInvalidRequestBody,
		Status:  http.StatusBadRequest,
	}
	ErrInternalError = APIError{
		Code:    CodeInternalError,
		Message: MsgInternalError,
		Status:  http.StatusInternalServerError,
	}
	ErrUnauthorized = APIError{
		Code:    CodeUnauthorized,
		Message: MsgUnauthorized,
		Status:  http.StatusUnauthorized,
	}
	ErrForbidden = APIError{
		Code:    CodeForbidden,
		Message: MsgForbidden,
		Status:  http.StatusForbidden,
	}
	ErrMissingOwner = APIError{
		Code:    CodeMissingOwner,
		Message: MsgMissingOwner,
		Status:  http.StatusUnauthorized,
	}
	ErrRateLimited = APIError{
		Code:    CodeRateLimited,
		Message: MsgRateLimited,
		Status:  http.StatusTooManyRequests,
	}
)

// Link errors
var (
	ErrInvalidURL = APIError{
		Code:    CodeInvalidURL,
		Message: MsgInvalidURL,
		Status:  http.StatusBadRequest,
	}
	ErrInvalidSlug = APIError{
		Code:    CodeInvalidSlug,
		Message: MsgInvalidSlug,
		Status:  http.StatusBadRequest,
	}
	ErrInvalidSecret = APIError{
		Code:    CodeInvalidSecret,
		Message: MsgInvalidSecret,
		Status:  http.StatusBadRequest,
	}
	ErrInvalidRange = APIError{
		Code:    CodeInvalidRange,
		Message: MsgInvalidRange,
		Status:  http.StatusBadRequest,
	}
	ErrSlugTaken = APIError{
		Code:    CodeSlugTaken,
		Message: MsgSlugTaken,
		Status:  http.StatusConflict,
	}
	ErrLinkNotFound = APIError{
		Code:    CodeLinkNotFound,
		Message: MsgLinkNotFound,
		Status:  http.StatusNotFound,
	}
	ErrLinkInactive = APIError{
		Code:    CodeLinkInactive,
		Message: MsgLinkInactive,
		Status:  http.StatusGone,
	}
	ErrLinkLocked = APIError{
		Code:    CodeLinkLocked,
		Message: MsgLinkLocked,
		Status:  http.StatusUnauthorized,
	}
	ErrLinkDenied = APIError{
		Code:    CodeLinkDenied,
		Message: MsgLinkDenied,
		Status:  http.StatusForbidden,
	}
)

// Folder errors
var (
	ErrFolderNotFound = APIError{
		Code:    CodeFolderNotFound,
		Message: MsgFolderNotFound,
		Status:  http.StatusNotFound,
	}
	ErrInvalidFolderName = APIError{
		Code:    CodeInvalidFolderName,
		Message: MsgInvalidFolderName,
		Status:  http.StatusBadRequest,
	}
	ErrFolderConflict = APIError{
		Code:    CodeFolderConflict,
		Message: MsgFolderConflict,
		Status:  http.StatusConflict,
	}
)
