package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator keeps the partition between links and folders: every link is
// unassigned or points at exactly one existing folder. Every operation that
// touches more than one document commits as a single batch.
//
// Assignments are guarded inside the batch (the link must still be
// unassigned, or still in the folder being edited), so a concurrent writer
// makes the batch fail with ErrConflict rather than being overwritten. No
// retries are attempted here.
type Coordinator struct {
	store docstore.Store
	newID func() string
	now   func() time.Time
}

func NewCoordinator(store docstore.Store) *Coordinator {
	return &Coordinator{
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// CreateFolder creates a folder owned by ownerID and moves initialLinkIDs
// into it. Every initial link must exist, belong to ownerID and be
// unassigned; the folder and all assignments commit together.
func (c *Coordinator) CreateFolder(ctx context.Context, name, ownerID string, initialLinkIDs []string) (*Folder, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}

	ids := dedupe(initialLinkIDs)
	if _, err := c.eligible(ctx, ownerID, "", ids); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	folder := &Folder{
		ID:         c.newID(),
		Name:       name,
		OwnerID:    ownerID,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	batch := c.store.Batch().Set(Collection, folder.ID, folder.fields())
	assign(batch, folder.ID, ownerID, ids, now)
	if err := batch.Commit(ctx); err != nil {
		return nil, mapCommitErr(err)
	}

	logger.Info("folder created",
		zap.String("folder_id", folder.ID),
		zap.String("owner_id", ownerID),
		zap.Int("links", len(ids)),
	)
	return folder, nil
}

// AddLinks moves unassigned links of the folder's owner into folderID. Links
// already in the folder are left alone; a link in another folder is a
// conflict and nothing is written.
func (c *Coordinator) AddLinks(ctx context.Context, folderID string, linkIDs []string) error {
	folder, err := c.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	pending, err := c.eligible(ctx, folder.OwnerID, folder.ID, dedupe(linkIDs))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	now := c.now().UTC()
	// Writing the folder document makes a concurrent DeleteFolder and this
	// batch conflict with each other instead of leaving links pointing at a
	// deleted folder.
	batch := c.store.Batch().Update(Collection, folder.ID, docstore.Fields{"modifiedAt": now})
	assign(batch, folder.ID, folder.OwnerID, pending, now)
	if err := batch.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrNotFound) && c.folderMissing(ctx, folder.ID) {
			return ErrNotFound
		}
		return mapCommitErr(err)
	}
	return nil
}

// RemoveLink detaches linkID from folderID. It fails with ErrConflict when
// the link no longer belongs to folderID, so a stale caller cannot undo a
// newer reassignment.
func (c *Coordinator) RemoveLink(ctx context.Context, folderID, linkID string) error {
	folder, err := c.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	link, err := c.getLink(ctx, linkID)
	if err != nil {
		return err
	}
	if !link.InFolder(folder.ID) {
		return fmt.Errorf("%w: link %s is not in folder %s", ErrConflict, link.ID, folder.ID)
	}

	err = c.store.Batch().
		UpdateIf(links.Collection, link.ID, docstore.Fields{
			"folderId":   nil,
			"modifiedAt": c.now().UTC(),
		}, docstore.Eq("folderId", folder.ID)).
		Commit(ctx)
	if err != nil {
		return mapCommitErr(err)
	}
	return nil
}

// DeleteFolder unassigns every member link and deletes the folder in one
// batch. Links are never deleted. Membership is evaluated when the batch
// commits, so links added after the folder was read are released too.
func (c *Coordinator) DeleteFolder(ctx context.Context, folderID string) error {
	folder, err := c.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	err = c.store.Batch().
		UpdateWhere(links.Collection, docstore.Fields{
			"folderId":   nil,
			"modifiedAt": c.now().UTC(),
		}, docstore.Eq("folderId", folder.ID)).
		Delete(Collection, folder.ID).
		Commit(ctx)
	if err != nil {
		return mapCommitErr(err)
	}

	logger.Info("folder deleted",
		zap.String("folder_id", folder.ID),
		zap.String("owner_id", folder.OwnerID),
	)
	return nil
}

func (c *Coordinator) RenameFolder(ctx context.Context, folderID, newName string) error {
	name, err := normalizeName(newName)
	if err != nil {
		return err
	}
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return ErrNotFound
	}

	err = c.store.Update(ctx, Collection, folderID, docstore.Fields{
		"name":       name,
		"modifiedAt": c.now().UTC(),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (c *Coordinator) GetFolder(ctx context.Context, folderID string) (*Folder, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return nil, ErrNotFound
	}

	doc, err := c.store.Get(ctx, Collection, folderID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var folder Folder
	if err := docstore.Decode(doc, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// ListFolders returns the owner's folders with link counts derived from a
// single query over the owner's links.
func (c *Coordinator) ListFolders(ctx context.Context, ownerID string) ([]Summary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}

	folderDocs, err := c.store.Query(ctx, Collection, docstore.Eq("ownerId", ownerID))
	if err != nil {
		return nil, err
	}
	linkDocs, err := c.store.Query(ctx, links.Collection, docstore.Eq("ownerId", ownerID))
	if err != nil {
		return nil, err
	}
	owned, err := links.DecodeAll(linkDocs)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(folderDocs))
	for _, l := range owned {
		if l.FolderID != nil {
			counts[*l.FolderID]++
		}
	}

	out := make([]Summary, 0, len(folderDocs))
	for _, doc := range folderDocs {
		var f Folder
		if err := docstore.Decode(doc, &f); err != nil {
			return nil, err
		}
		out = append(out, Summary{Folder: f, LinkCount: counts[f.ID]})
	}
	return out, nil
}

// FolderLinks returns the links currently assigned to folderID.
func (c *Coordinator) FolderLinks(ctx context.Context, folderID string) ([]links.ShortLink, error) {
	folder, err := c.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	docs, err := c.store.Query(ctx, links.Collection, docstore.Eq("folderId", folder.ID))
	if err != nil {
		return nil, err
	}
	return links.DecodeAll(docs)
}

// eligible checks that every id is a link of ownerID that is unassigned or
// already in folderID, and returns the ones that still need assigning.
func (c *Coordinator) eligible(ctx context.Context, ownerID, folderID string, ids []string) ([]string, error) {
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		link, err := c.getLink(ctx, id)
		if err != nil {
			return nil, err
		}
		if link.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, id)
		}
		if link.FolderID == nil {
			pending = append(pending, id)
			continue
		}
		if folderID != "" && *link.FolderID == folderID {
			continue
		}
		return nil, fmt.Errorf("%w: link %s already belongs to folder %s", ErrConflict, id, *link.FolderID)
	}
	return pending, nil
}

func (c *Coordinator) getLink(ctx context.Context, id string) (*links.ShortLink, error) {
	doc, err := c.store.Get(ctx, links.Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, id)
		}
		return nil, err
	}
	return links.Decode(doc)
}

func (c *Coordinator) folderMissing(ctx context.Context, folderID string) bool {
	_, err := c.store.Get(ctx, Collection, folderID)
	return errors.Is(err, docstore.ErrNotFound)
}

// assign queues guarded assignments: each link must still be unassigned and
// owned by ownerID when the batch commits.
func assign(batch *docstore.Batch, folderID, ownerID string, ids []string, now time.Time) {
	for _, id := range ids {
		batch.UpdateIf(links.Collection, id, docstore.Fields{
			"folderId":   folderID,
			"modifiedAt": now,
		}, docstore.Eq("folderId", nil), docstore.Eq("ownerId", ownerID))
	}
}

func mapCommitErr(err error) error {
	switch {
	case errors.Is(err, docstore.ErrPrecondition):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrLinkNotFound, err)
	default:
		return err
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
