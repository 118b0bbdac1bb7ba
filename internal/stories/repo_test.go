package stories

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/config"
	"github.com/sociallyhq/socially/internal/reconcile"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/session"
	"github.com/sociallyhq/socially/internal/store"
)

type mockRemote struct {
	mu        sync.Mutex
	uploadErr error
	uploads   []remote.UploadStoryRequest
	fetchOut  []remote.StoryDTO
}

func (m *mockRemote) FetchStories(ctx context.Context) ([]remote.StoryDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchOut, nil
}

func (m *mockRemote) UploadStory(ctx context.Context, req *remote.UploadStoryRequest) (*remote.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.uploads = append(m.uploads, *req)
	return &remote.UploadResponse{Success: true, ID: "s-srv", MediaURL: "https://cdn/s.mp4"}, nil
}

type fakeNet struct {
	online bool
}

func (n *fakeNet) Online() bool  { return n.online }
func (n *fakeNet) Report(v bool) {}

type fakeSched struct{}

func (s *fakeSched) Schedule(ctx context.Context) {}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRepo(t *testing.T, db *store.DB, rc Remote, net Net) *Repo {
	t.Helper()
	b := bus.New()
	rec := reconcile.NewReconciler(db, b, zap.NewNop(), 0)
	self := &session.Profile{UserID: "alice", Username: "Alice"}
	return NewRepo(db, rc, rec, b, net, &fakeSched{}, zap.NewNop(), self, config.Default())
}

func TestCreateStampsExpiry(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	r := testRepo(t, db, m, &fakeNet{online: true})

	s, err := r.Create(context.Background(), "/tmp/s.mp4", "video")
	if err != nil {
		t.Fatal(err)
	}
	if s.SyncStatus != store.StatusSynced || s.ServerID != "s-srv" {
		t.Errorf("story = %+v", s)
	}
	if got := s.ExpiresAt - s.CreatedAt; got != TTL.Milliseconds() {
		t.Errorf("expiry window = %dms", got)
	}
	if len(m.uploads) != 1 || m.uploads[0].ExpiresAt != s.ExpiresAt {
		t.Errorf("upload = %+v", m.uploads)
	}
}

func TestCreateOfflineQueuesAndStaysVisible(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	r := testRepo(t, db, m, &fakeNet{online: false})

	s, err := r.Create(context.Background(), "/tmp/s.jpg", "image")
	if err != nil {
		t.Fatal(err)
	}
	if s.SyncStatus != store.StatusPending {
		t.Errorf("status = %q", s.SyncStatus)
	}
	if n, _ := db.PendingOpCount(); n != 1 {
		t.Errorf("pending ops = %d", n)
	}

	active, err := r.Active()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("own unsynced story missing: %+v", active)
	}
}

func TestExpiredStoriesDropOut(t *testing.T) {
	db := testDB(t)
	r := testRepo(t, db, &mockRemote{}, &fakeNet{online: false})

	now := time.Now().UnixMilli()
	if err := db.UpsertServerStory(&store.Story{
		ServerID: "s-old", OwnerID: "bob", MediaType: "image",
		CreatedAt: now - TTL.Milliseconds() - 1000,
		ExpiresAt: now - 1000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertServerStory(&store.Story{
		ServerID: "s-new", OwnerID: "bob", MediaType: "image",
		CreatedAt: now, ExpiresAt: now + TTL.Milliseconds(),
	}); err != nil {
		t.Fatal(err)
	}

	active, err := r.Active()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ServerID != "s-new" {
		t.Errorf("active = %+v", active)
	}
}
