package folders

import (
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
)

const (
	// Collection is the docstore collection holding folders.
	Collection = "folders"

	MaxNameLength = 100
)

// Folder groups links. Membership lives on the links (folderId); a folder
// never stores its own link count.
type Folder struct {
	ID         string    `bson:"_id" validate:"required"`
	Name       string    `bson:"name" validate:"required,notblank"`
	OwnerID    string    `bson:"ownerId" validate:"required"`
	CreatedAt  time.Time `bson:"createdAt"`
	ModifiedAt time.Time `bson:"modifiedAt"`
}

func (f *Folder) fields() docstore.Fields {
	return docstore.Fields{
		"name":       f.Name,
		"ownerId":    f.OwnerID,
		"createdAt":  f.CreatedAt,
		"modifiedAt": f.ModifiedAt,
	}
}

// Summary is a folder with its link count derived at read time.
type Summary struct {
	Folder
	LinkCount int
}
