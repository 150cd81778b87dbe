package links

import (
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
)

// Collection is the docstore collection holding short links.
const Collection = "links"

// ShortLink maps a short id to a destination URL. A protected link only
// reveals its destination to callers presenting UnlockSecret.
type ShortLink struct {
	ID           string    `bson:"_id" validate:"required"`
	OriginalURL  string    `bson:"originalUrl" validate:"required,http_url"`
	OwnerID      string    `bson:"ownerId" validate:"required"`
	IsActive     bool      `bson:"isActive"`
	IsProtected  bool      `bson:"isProtected"`
	UnlockSecret string    `bson:"unlockSecret,omitempty" validate:"required_if=IsProtected true"`
	FolderID     *string   `bson:"folderId"`
	CreatedAt    time.Time `bson:"createdAt"`
	ModifiedAt   time.Time `bson:"modifiedAt"`
	ClickCount   int64     `bson:"clickCount" validate:"gte=0"`
}

func (l *ShortLink) fields() docstore.Fields {
	f := docstore.Fields{
		"originalUrl": l.OriginalURL,
		"ownerId":     l.OwnerID,
		"isActive":    l.IsActive,
		"isProtected": l.IsProtected,
		"folderId":    l.FolderID,
		"createdAt":   l.CreatedAt,
		"modifiedAt":  l.ModifiedAt,
		"clickCount":  l.ClickCount,
	}
	if l.IsProtected {
		f["unlockSecret"] = l.UnlockSecret
	}
	return f
}

// InFolder reports whether the link is currently assigned to folderID.
func (l *ShortLink) InFolder(folderID string) bool {
	return l.FolderID != nil && *l.FolderID == folderID
}

// Decode turns a stored document into a validated ShortLink.
func Decode(doc docstore.Document) (*ShortLink, error) {
	var link ShortLink
	if err := docstore.Decode(doc, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type CreateLinkInput struct {
	URL       string
	OwnerID   string
	Slug      string
	Protected bool
	Secret    string
}

// ListFilter narrows ListLinks. With ByFolder set, an empty FolderID selects
// unassigned links.
type ListFilter struct {
	OwnerID  string
	ByFolder bool
	FolderID string
}
