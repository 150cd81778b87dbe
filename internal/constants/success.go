package constants

import "net/http"

// APISuccess represents a standardized API success response with code and HTTP status.
// Use these predefined success constants for consistent API responses across the application.
type APISuccess struct {
	Code   string
	Status int
}

// Link-related success responses
var (
	SuccessLinkCreated = APISuccess{
		Code:   CodeLinkCreated,
		Status: http.StatusCreated,
	}
	SuccessLinkFound = APISuccess{
		Code:   CodeLinkFound,
		Status: http.StatusOK,
	}
	SuccessLinksListed = APISuccess{
		Code:   CodeLinksListed,
		Status: http.StatusOK,
	}
	SuccessLinkUpdated = APISuccess{
		Code:   CodeLinkUpdated,
		Status: http.StatusOK,
	}
	SuccessLinkUnlocked = APISuccess{
		Code:   CodeLinkUnlocked,
		Status: http.StatusOK,
	}
	SuccessStatsFound = APISuccess{
		Code:   CodeStatsFound,
		Status: http.StatusOK,
	}
)

// Folder-related success responses
var (
	SuccessFolderCreated = APISuccess{
		Code:   CodeFolderCreated,
		Status: http.StatusCreated,
	}
	SuccessFolderFound = APISuccess{
		Code:   CodeFolderFound,
		Status: http.StatusOK,
	}
	SuccessFoldersListed = APISuccess{
		Code:   CodeFoldersListed,
		Status: http.StatusOK,
	}
	SuccessFolderUpdated = APISuccess{
		Code:   CodeFolderUpdated,
		Status: http.StatusOK,
	}
	SuccessFolderLinksUpdated = APISuccess{
		Code:   CodeFolderLinksSet,
		Status: http.StatusOK,
	}
)
