package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/docstore/memory"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestCoordinator(store docstore.Store) *Coordinator {
	c := NewCoordinator(store)
	c.now = func() time.Time { return fixedNow }
	seq := 0
	c.newID = func() string {
		seq++
		return fmt.Sprintf("folder-%d", seq)
	}
	return c
}

func seedLink(t *testing.T, store docstore.Store, id, owner string, folderID *string) {
	t.Helper()
	err := store.Set(context.Background(), links.Collection, id, docstore.Fields{
		"originalUrl": "https://example.com/" + id,
		"ownerId":     owner,
		"isActive":    true,
		"isProtected": false,
		"folderId":    folderID,
		"createdAt":   fixedNow,
		"modifiedAt":  fixedNow,
		"clickCount":  int64(0),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func folderOf(t *testing.T, store docstore.Store, linkID string) *string {
	t.Helper()
	doc, err := store.Get(context.Background(), links.Collection, linkID)
	if err != nil {
		t.Fatalf("get link %s: %v", linkID, err)
	}
	link, err := links.Decode(doc)
	if err != nil {
		t.Fatal(err)
	}
	return link.FolderID
}

func assertFolder(t *testing.T, store docstore.Store, linkID string, want *string) {
	t.Helper()
	got := folderOf(t, store, linkID)
	switch {
	case want == nil && got != nil:
		t.Errorf("link %s: folder = %q, want unassigned", linkID, *got)
	case want != nil && got == nil:
		t.Errorf("link %s: unassigned, want folder %q", linkID, *want)
	case want != nil && *got != *want:
		t.Errorf("link %s: folder = %q, want %q", linkID, *got, *want)
	}
}

// assertPartition checks that every link is unassigned or points at an
// existing folder.
func assertPartition(t *testing.T, store docstore.Store) {
	t.Helper()
	ctx := context.Background()
	docs, err := store.Query(ctx, links.Collection)
	if err != nil {
		t.Fatal(err)
	}
	all, err := links.DecodeAll(docs)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range all {
		if l.FolderID == nil {
			continue
		}
		if _, err := store.Get(ctx, Collection, *l.FolderID); err != nil {
			t.Errorf("link %s points at missing folder %q", l.ID, *l.FolderID)
		}
	}
}

func ptr(s string) *string { return &s }

// hookStore lets a test interleave a competing write between a coordinator's
// reads and its commit.
type hookStore struct {
	docstore.Store
	afterGet   func(collection, id string)
	afterQuery func(collection string)
}

func (h *hookStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, err := h.Store.Get(ctx, collection, id)
	if h.afterGet != nil {
		h.afterGet(collection, id)
	}
	return doc, err
}

func (h *hookStore) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	docs, err := h.Store.Query(ctx, collection, filters...)
	if h.afterQuery != nil {
		h.afterQuery(collection)
	}
	return docs, err
}

// --- CreateFolder ---

func TestCreateFolder_AssignsInitialLinks(t *testing.T) {
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	c := newTestCoordinator(store)

	f, err := c.CreateFolder(context.Background(), "  Work  ", "u1", []string{"L1", "L2", "L1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "Work" {
		t.Errorf("name = %q, want trimmed %q", f.Name, "Work")
	}
	if !f.CreatedAt.Equal(fixedNow) || !f.ModifiedAt.Equal(fixedNow) {
		t.Errorf("timestamps = %v/%v, want %v", f.CreatedAt, f.ModifiedAt, fixedNow)
	}

	assertFolder(t, store, "L1", ptr(f.ID))
	assertFolder(t, store, "L2", ptr(f.ID))

	got, err := c.GetFolder(context.Background(), f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != "u1" {
		t.Errorf("owner = %q, want u1", got.OwnerID)
	}
}

func TestCreateFolder_NoInitialLinks(t *testing.T) {
	store := memory.New()
	c := newTestCoordinator(store)

	f, err := c.CreateFolder(context.Background(), "Empty", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.Count(Collection) != 1 {
		t.Errorf("folders = %d, want 1", store.Count(Collection))
	}
	members, err := c.FolderLinks(context.Background(), f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Errorf("members = %d, want 0", len(members))
	}
}

func TestCreateFolder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		folder  string
		owner   string
		wantErr error
	}{
		{"empty name", "", "u1", ErrInvalidName},
		{"blank name", "   ", "u1", ErrInvalidName},
		{"name too long", strings.Repeat("a", MaxNameLength+1), "u1", ErrInvalidName},
		{"missing owner", "Work", " ", ErrInvalidOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			c := newTestCoordinator(store)
			_, err := c.CreateFolder(context.Background(), tt.folder, tt.owner, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if store.Count(Collection) != 0 {
				t.Error("folder must not be written")
			}
		})
	}
}

func TestCreateFolder_NameAtLimitAccepted(t *testing.T) {
	c := newTestCoordinator(memory.New())
	name := strings.Repeat("é", MaxNameLength)
	if _, err := c.CreateFolder(context.Background(), name, "u1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateFolder_RejectsIneligibleLinks(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr error
	}{
		{"unknown link", []string{"L1", "missing"}, ErrLinkNotFound},
		{"other owner", []string{"L1", "foreign"}, ErrLinkNotFound},
		{"already filed", []string{"L1", "filed"}, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedLink(t, store, "L1", "u1", nil)
			seedLink(t, store, "foreign", "u2", nil)
			if err := store.Set(context.Background(), Collection, "existing", docstore.Fields{
				"name": "Old", "ownerId": "u1", "createdAt": fixedNow, "modifiedAt": fixedNow,
			}); err != nil {
				t.Fatal(err)
			}
			seedLink(t, store, "filed", "u1", ptr("existing"))
			c := newTestCoordinator(store)

			_, err := c.CreateFolder(context.Background(), "New", "u1", tt.ids)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if store.Count(Collection) != 1 {
				t.Errorf("folders = %d, want only the pre-existing one", store.Count(Collection))
			}
			assertFolder(t, store, "L1", nil)
			assertFolder(t, store, "filed", ptr("existing"))
		})
	}
}

func TestCreateFolder_ConcurrentAssignmentConflicts(t *testing.T) {
	mem := memory.New()
	seedLink(t, mem, "L1", "u1", nil)
	if err := mem.Set(context.Background(), Collection, "rival", docstore.Fields{
		"name": "Rival", "ownerId": "u1", "createdAt": fixedNow, "modifiedAt": fixedNow,
	}); err != nil {
		t.Fatal(err)
	}

	store := &hookStore{Store: mem}
	store.afterGet = func(collection, id string) {
		if collection != links.Collection || id != "L1" {
			return
		}
		store.afterGet = nil
		if err := mem.Update(context.Background(), links.Collection, "L1", docstore.Fields{"folderId": "rival"}); err != nil {
			t.Fatal(err)
		}
	}
	c := newTestCoordinator(store)

	_, err := c.CreateFolder(context.Background(), "Mine", "u1", []string{"L1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if mem.Count(Collection) != 1 {
		t.Errorf("folders = %d, want 1 (new folder rolled back)", mem.Count(Collection))
	}
	assertFolder(t, mem, "L1", ptr("rival"))
	assertPartition(t, mem)
}

func TestCreateFolder_FailedCommitWritesNothing(t *testing.T) {
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	c := newTestCoordinator(store)

	boom := errors.New("connection reset")
	store.FailNextCommit(boom)

	if _, err := c.CreateFolder(context.Background(), "Work", "u1", []string{"L1"}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if store.Count(Collection) != 0 {
		t.Error("folder must not exist after failed commit")
	}
	assertFolder(t, store, "L1", nil)
}

// --- AddLinks / RemoveLink ---

func TestAddLinks(t *testing.T) {
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	seedLink(t, store, "L3", "u1", nil)
	c := newTestCoordinator(store)
	ctx := context.Background()

	f, err := c.CreateFolder(ctx, "Work", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}

	later := fixedNow.Add(time.Hour)
	c.now = func() time.Time { return later }

	// L1 is already a member and is skipped.
	if err := c.AddLinks(ctx, f.ID, []string{"L1", "L2", "L3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"L1", "L2", "L3"} {
		assertFolder(t, store, id, ptr(f.ID))
	}

	got, err := c.GetFolder(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ModifiedAt.Equal(later) {
		t.Errorf("modifiedAt = %v, want %v", got.ModifiedAt, later)
	}
}

func TestAddLinks_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	seedLink(t, store, "foreign", "u2", nil)
	c := newTestCoordinator(store)

	a, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateFolder(ctx, "B", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("unknown folder", func(t *testing.T) {
		if err := c.AddLinks(ctx, "nope", []string{"L2"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("link in another folder", func(t *testing.T) {
		err := c.AddLinks(ctx, b.ID, []string{"L2", "L1"})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		assertFolder(t, store, "L1", ptr(a.ID))
		assertFolder(t, store, "L2", nil)
	})

	t.Run("link of another owner", func(t *testing.T) {
		if err := c.AddLinks(ctx, b.ID, []string{"foreign"}); !errors.Is(err, ErrLinkNotFound) {
			t.Fatalf("got %v, want ErrLinkNotFound", err)
		}
		assertFolder(t, store, "foreign", nil)
	})

	assertPartition(t, store)
}

func TestAddLinks_FolderDeletedBeforeCommit(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedLink(t, mem, "L1", "u1", nil)
	c := newTestCoordinator(mem)
	f, err := c.CreateFolder(ctx, "Doomed", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}

	store := &hookStore{Store: mem}
	store.afterGet = func(collection, id string) {
		if collection != links.Collection {
			return
		}
		store.afterGet = nil
		if err := mem.Delete(ctx, Collection, f.ID); err != nil {
			t.Fatal(err)
		}
	}
	c.store = store

	if err := c.AddLinks(ctx, f.ID, []string{"L1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	assertFolder(t, mem, "L1", nil)
	assertPartition(t, mem)
}

func TestRemoveLink(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	c := newTestCoordinator(store)

	a, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateFolder(ctx, "B", "u1", []string{"L2"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.RemoveLink(ctx, a.ID, "L1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFolder(t, store, "L1", nil)

	tests := []struct {
		name    string
		folder  string
		link    string
		wantErr error
	}{
		{"already removed", a.ID, "L1", ErrConflict},
		{"member of another folder", a.ID, "L2", ErrConflict},
		{"unknown link", a.ID, "ghost", ErrLinkNotFound},
		{"unknown folder", "ghost", "L2", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.RemoveLink(ctx, tt.folder, tt.link); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
	assertFolder(t, store, "L2", ptr(b.ID))
}

// --- DeleteFolder ---

func TestDeleteFolder_ReleasesMembers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	seedLink(t, store, "L3", "u1", nil)
	c := newTestCoordinator(store)

	a, err := c.CreateFolder(ctx, "A", "u1", []string{"L1", "L2"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateFolder(ctx, "B", "u1", []string{"L3"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteFolder(ctx, a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.GetFolder(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("folder still readable: %v", err)
	}
	assertFolder(t, store, "L1", nil)
	assertFolder(t, store, "L2", nil)
	assertFolder(t, store, "L3", ptr(b.ID))
	if store.Count(links.Collection) != 3 {
		t.Errorf("links = %d, want 3 (links are never deleted)", store.Count(links.Collection))
	}
	assertPartition(t, store)

	if err := c.DeleteFolder(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestDeleteFolder_ReleasesLinksAddedDuringDelete(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedLink(t, mem, "L1", "u1", nil)
	seedLink(t, mem, "late", "u1", nil)
	c := newTestCoordinator(mem)
	f, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}

	store := &hookStore{Store: mem}
	store.afterGet = func(collection, _ string) {
		if collection != Collection {
			return
		}
		store.afterGet = nil
		if err := mem.Update(ctx, links.Collection, "late", docstore.Fields{"folderId": f.ID}); err != nil {
			t.Fatal(err)
		}
	}
	c.store = store

	if err := c.DeleteFolder(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	assertFolder(t, mem, "L1", nil)
	assertFolder(t, mem, "late", nil)
	assertPartition(t, mem)
}

// The release set is only known at commit, so the delete log must not report
// a member count read beforehand.
func TestDeleteFolder_LogsNoPreCommitMemberCount(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = nil })

	ctx := context.Background()
	mem := memory.New()
	seedLink(t, mem, "L1", "u1", nil)
	c := newTestCoordinator(mem)
	f, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}

	var queried []string
	store := &hookStore{Store: mem}
	store.afterQuery = func(collection string) { queried = append(queried, collection) }
	c.store = store

	if err := c.DeleteFolder(ctx, f.ID); err != nil {
		t.Fatal(err)
	}

	if len(queried) != 0 {
		t.Errorf("delete read members before commit: %v", queried)
	}
	entries := logs.FilterMessage("folder deleted").All()
	if len(entries) != 1 {
		t.Fatalf("got %d delete log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["folder_id"] != f.ID {
		t.Errorf("folder_id = %v, want %s", fields["folder_id"], f.ID)
	}
	if _, ok := fields["released_links"]; ok {
		t.Errorf("delete log carries a pre-commit member count: %v", fields)
	}
}

func TestDeleteFolder_FailedCommitKeepsMembership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	c := newTestCoordinator(store)
	f, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}

	store.FailNextCommit(errors.New("write conflict"))
	if err := c.DeleteFolder(ctx, f.ID); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.GetFolder(ctx, f.ID); err != nil {
		t.Errorf("folder should survive failed delete: %v", err)
	}
	assertFolder(t, store, "L1", ptr(f.ID))
}

// --- Rename / List ---

func TestRenameFolder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := newTestCoordinator(store)
	f, err := c.CreateFolder(ctx, "Old", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.RenameFolder(ctx, f.ID, " New "); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetFolder(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "New" {
		t.Errorf("name = %q, want New", got.Name)
	}

	if err := c.RenameFolder(ctx, f.ID, ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("got %v, want ErrInvalidName", err)
	}
	if err := c.RenameFolder(ctx, "ghost", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListFolders_CountsMembers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	seedLink(t, store, "L2", "u1", nil)
	seedLink(t, store, "L3", "u1", nil)
	seedLink(t, store, "other", "u2", nil)
	c := newTestCoordinator(store)

	a, err := c.CreateFolder(ctx, "A", "u1", []string{"L1", "L2"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateFolder(ctx, "B", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateFolder(ctx, "Theirs", "u2", []string{"other"}); err != nil {
		t.Fatal(err)
	}

	got, err := c.ListFolders(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("folders = %d, want 2", len(got))
	}
	counts := map[string]int{}
	for _, s := range got {
		counts[s.ID] = s.LinkCount
	}
	if counts[a.ID] != 2 || counts[b.ID] != 0 {
		t.Errorf("counts = %v, want %s:2 %s:0", counts, a.ID, b.ID)
	}

	if _, err := c.ListFolders(ctx, ""); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("got %v, want ErrInvalidOwner", err)
	}
}

// Moving a link between folders goes through RemoveLink then AddLinks; the
// partition holds at every step.
func TestMoveLinkBetweenFolders(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLink(t, store, "L1", "u1", nil)
	c := newTestCoordinator(store)

	a, err := c.CreateFolder(ctx, "A", "u1", []string{"L1"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateFolder(ctx, "B", "u1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.AddLinks(ctx, b.ID, []string{"L1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("direct move: got %v, want ErrConflict", err)
	}
	if err := c.RemoveLink(ctx, a.ID, "L1"); err != nil {
		t.Fatal(err)
	}
	assertPartition(t, store)
	if err := c.AddLinks(ctx, b.ID, []string{"L1"}); err != nil {
		t.Fatal(err)
	}
	assertFolder(t, store, "L1", ptr(b.ID))
	assertPartition(t, store)
}
