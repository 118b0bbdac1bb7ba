package posts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

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
	likeErr   error
	likeResp  *remote.LikeResponse
	uploads   []remote.UploadPostRequest
	comments  []remote.AddCommentRequest
	likeCalls int
}

func (m *mockRemote) FetchPosts(ctx context.Context, userID string) ([]remote.PostDTO, error) {
	return nil, nil
}

func (m *mockRemote) UploadPost(ctx context.Context, req *remote.UploadPostRequest) (*remote.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.uploads = append(m.uploads, *req)
	return &remote.UploadResponse{Success: true, ID: "p-srv", MediaURL: "https://cdn/p.jpg"}, nil
}

func (m *mockRemote) ToggleLike(ctx context.Context, postID, userID string, like bool) (*remote.LikeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.likeCalls++
	if m.likeErr != nil {
		return nil, m.likeErr
	}
	if m.likeResp != nil {
		return m.likeResp, nil
	}
	count := 0
	if like {
		count = 1
	}
	return &remote.LikeResponse{LikesCount: count, LikedByUser: like}, nil
}

func (m *mockRemote) FetchComments(ctx context.Context, postID string) ([]remote.CommentDTO, error) {
	return nil, nil
}

func (m *mockRemote) AddComment(ctx context.Context, req *remote.AddCommentRequest) (*remote.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.comments = append(m.comments, *req)
	return &remote.UploadResponse{Success: true, ID: "c-srv"}, nil
}

type fakeNet struct {
	online bool
}

func (n *fakeNet) Online() bool  { return n.online }
func (n *fakeNet) Report(v bool) {}

type fakeSched struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSched) Schedule(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

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

func testRepo(t *testing.T, db *store.DB, rc Remote, net Net, sched Scheduler) *Repo {
	t.Helper()
	b := bus.New()
	rec := reconcile.NewReconciler(db, b, zap.NewNop(), 0)
	self := &session.Profile{UserID: "alice", Username: "Alice"}
	return NewRepo(db, rc, rec, b, net, sched, zap.NewNop(), self, config.Default())
}

func TestCreateInlineWhenOnline(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	r := testRepo(t, db, m, &fakeNet{online: true}, &fakeSched{})

	p, err := r.Create(context.Background(), "sunset", "/tmp/s.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if p.SyncStatus != store.StatusSynced || p.ServerID != "p-srv" {
		t.Errorf("post = %+v", p)
	}
	if p.MediaURL != "https://cdn/p.jpg" {
		t.Errorf("canonical media url not applied: %q", p.MediaURL)
	}
}

func TestCreateQueuesWhenOffline(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	sched := &fakeSched{}
	r := testRepo(t, db, m, &fakeNet{online: false}, sched)

	p, err := r.Create(context.Background(), "later", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.SyncStatus != store.StatusPending {
		t.Errorf("status = %q", p.SyncStatus)
	}
	if len(m.uploads) != 0 {
		t.Error("offline create hit the network")
	}
	if n, _ := db.PendingOpCount(); n != 1 {
		t.Errorf("pending ops = %d", n)
	}

	feed, err := r.Feed()
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].Caption != "later" {
		t.Errorf("own unsynced post missing from feed: %+v", feed)
	}
}

func TestToggleLikeAppliesAuthoritativeAggregate(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{likeResp: &remote.LikeResponse{LikesCount: 9, LikedByUser: true}}
	r := testRepo(t, db, m, &fakeNet{online: true}, &fakeSched{})

	if err := db.UpsertServerPost(&store.Post{
		ServerID: "p1", OwnerID: "bob", Caption: "pic", LikesCount: 8, CreatedAt: 100,
	}); err != nil {
		t.Fatal(err)
	}
	p, err := db.GetPostByServerID("p1")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.ToggleLike(context.Background(), p.LocalID); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetPostByServerID("p1")
	if got.LikesCount != 9 || !got.LikedByMe {
		t.Errorf("aggregate = %+v", got)
	}
}

func TestToggleLikeOfflineQueuesAndCoalesces(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	sched := &fakeSched{}
	r := testRepo(t, db, m, &fakeNet{online: false}, sched)

	if err := db.UpsertServerPost(&store.Post{
		ServerID: "p1", OwnerID: "bob", Caption: "pic", LikesCount: 3, CreatedAt: 100,
	}); err != nil {
		t.Fatal(err)
	}
	p, _ := db.GetPostByServerID("p1")

	// like, unlike, like again while offline
	for i := 0; i < 3; i++ {
		if err := r.ToggleLike(context.Background(), p.LocalID); err != nil {
			t.Fatal(err)
		}
	}

	if m.likeCalls != 0 {
		t.Error("offline toggle hit the network")
	}
	if n, _ := db.PendingOpCount(); n != 1 {
		t.Errorf("toggles did not coalesce, ops = %d", n)
	}
	got, _ := db.GetPostByServerID("p1")
	if !got.LikedByMe || got.LikesCount != 4 {
		t.Errorf("optimistic state after odd toggles = %+v", got)
	}
}

func TestToggleLikeRequiresSyncedPost(t *testing.T) {
	db := testDB(t)
	r := testRepo(t, db, &mockRemote{}, &fakeNet{online: true}, &fakeSched{})

	localID, err := db.InsertLocalPost(&store.Post{OwnerID: "alice", Caption: "draft", CreatedAt: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ToggleLike(context.Background(), localID); err == nil {
		t.Fatal("liking an unsynced post must fail")
	}
}

func TestAddCommentInlineAndOffline(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{}
	r := testRepo(t, db, m, &fakeNet{online: true}, &fakeSched{})

	c, err := r.AddComment(context.Background(), "p1", "nice")
	if err != nil {
		t.Fatal(err)
	}
	if c.SyncStatus != store.StatusSynced || c.ServerID != "c-srv" {
		t.Errorf("comment = %+v", c)
	}

	m.mu.Lock()
	m.uploadErr = errors.New("timeout")
	m.mu.Unlock()
	c2, err := r.AddComment(context.Background(), "p1", "queued")
	if err != nil {
		t.Fatal(err)
	}
	if c2.SyncStatus != store.StatusPending {
		t.Errorf("status = %q", c2.SyncStatus)
	}
	if n, _ := db.PendingOpCount(); n != 1 {
		t.Errorf("pending ops = %d", n)
	}

	comments, err := r.Comments("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Errorf("comments = %+v", comments)
	}
}

func TestCreateRejectedRemovesLocalRow(t *testing.T) {
	db := testDB(t)
	m := &mockRemote{uploadErr: &remote.RejectedError{Reason: "banned"}}
	r := testRepo(t, db, m, &fakeNet{online: true}, &fakeSched{})

	_, err := r.Create(context.Background(), "nope", "")
	if !remote.IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	feed, _ := r.Feed()
	if len(feed) != 0 {
		t.Errorf("rejected post kept: %+v", feed)
	}
}
