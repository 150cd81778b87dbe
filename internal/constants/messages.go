package constants

// Error messages used in API responses.
// These are the human-readable messages returned in the "message" field.
const (
	// Common messages
	MsgInvalidRequestBody = "Invalid request body"
	MsgInternalError      = "An internal error occurred"
	MsgUnauthorized       = "Unauthorized"
	MsgForbidden          = "Forbidden"
	MsgMissingOwner       = "X-User-Id header is required"
	MsgRateLimited        = "Too many attempts, try again later"

	// Link-specific messages
	MsgInvalidURL    = "Invalid URL (must be http or https)"
	MsgInvalidSlug   = "Invalid slug (3-64 letters, digits, '-' or '_')"
	MsgInvalidSecret = "Protected links need a non-empty secret of at most 128 characters"
	MsgInvalidRange  = "Invalid date range"
	MsgSlugTaken     = "Slug already in use"
	MsgLinkNotFound  = "Link not found"
	MsgLinkInactive  = "Link is no longer active"
	MsgLinkLocked    = "Link is protected, a secret is required"
	MsgLinkDenied    = "Secret does not match"

	// Folder-specific messages
	MsgFolderNotFound    = "Folder not found"
	MsgInvalidFolderName = "Folder name must be 1-100 characters"
	MsgFolderConflict    = "Link is not in the expected folder"
)
