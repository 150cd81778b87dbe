package constants

// Error codes used in API responses.
// These are the machine-readable codes returned in the "error" field.
const (
	// Common error codes
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeMissingOwner   = "MISSING_OWNER"
	CodeRateLimited    = "RATE_LIMITED"

	// Link-specific codes
	CodeInvalidURL    = "INVALID_URL"
	CodeInvalidSlug   = "INVALID_SLUG"
	CodeInvalidSecret = "INVALID_SECRET"
	CodeInvalidRange  = "INVALID_RANGE"
	CodeSlugTaken     = "SLUG_TAKEN"
	CodeLinkNotFound  = "LINK_NOT_FOUND"
	CodeLinkInactive  = "LINK_INACTIVE"
	CodeLinkLocked    = "LINK_LOCKED"
	CodeLinkDenied    = "LINK_DENIED"

	// Folder-specific codes
	CodeFolderNotFound    = "FOLDER_NOT_FOUND"
	CodeInvalidFolderName = "INVALID_FOLDER_NAME"
	CodeFolderConflict    = "FOLDER_CONFLICT"

	// Success codes
	CodeLinkCreated    = "LINK_CREATED"
	CodeLinkFound      = "LINK_FOUND"
	CodeLinksListed    = "LINKS_LISTED"
	CodeLinkUpdated    = "LINK_UPDATED"
	CodeLinkUnlocked   = "LINK_UNLOCKED"
	CodeStatsFound     = "STATS_FOUND"
	CodeFolderCreated  = "FOLDER_CREATED"
	CodeFolderFound    = "FOLDER_FOUND"
	CodeFoldersListed  = "FOLDERS_LISTED"
	CodeFolderUpdated  = "FOLDER_UPDATED"
	CodeFolderLinksSet = "FOLDER_LINKS_UPDATED"
)
