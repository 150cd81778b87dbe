package folders

import "errors"

var (
	ErrNotFound     = errors.New("folder not found")
	ErrLinkNotFound = errors.New("link not found")
	ErrInvalidName  = errors.New("invalid folder name")
	ErrInvalidOwner = errors.New("owner is required")
	// ErrConflict means a link is not in the folder state the caller assumed:
	// it already belongs to another folder, or it left the folder being
	// edited.
	ErrConflict = errors.New("link folder assignment conflict")
)
