package docstore

import (
	"github.com/IgorGrieder/zurl/internal/infrastructure/validation"
	"go.mongodb.org/mongo-driver/bson"
)

// Decode unmarshals the document into v and validates the result, so callers
// never see a malformed record.
func Decode(doc Document, v any) error {
	if err := bson.Unmarshal(doc.Data, v); err != nil {
		return &StoreError{Op: "decode", Collection: doc.Collection, Err: err}
	}
	if err := validation.Validate(v); err != nil {
		return &StoreError{Op: "decode", Collection: doc.Collection, Err: err}
	}
	return nil
}
