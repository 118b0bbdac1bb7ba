package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testReconciler(t *testing.T, db *store.DB) *Reconciler {
	t.Helper()
	return NewReconciler(db, bus.New(), zap.NewNop(), 0)
}

func TestIngestMessagesInsertsNewRecords(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	resp := &remote.MessagesResponse{
		Success: true,
		Messages: []remote.MessageDTO{
			{ID: 10, SenderID: "bob", Kind: store.KindText, Text: "hello", CreatedAt: 1000},
			{ID: 11, SenderID: "alice", Kind: store.KindText, Text: "hi", CreatedAt: 2000},
		},
	}
	if err := r.IngestMessages(chatID, resp); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ServerID != 10 || msgs[0].SyncStatus != store.StatusSynced {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[0].ReceiverID != "alice" {
		t.Errorf("receiver = %q, want alice", msgs[0].ReceiverID)
	}
}

func TestIngestMessagesAdoptsLocalMatch(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	localID, err := db.InsertLocalMessage(&store.Message{
		ChatID:     chatID,
		SenderID:   "alice",
		ReceiverID: "bob",
		Kind:       store.KindText,
		Body:       "offline draft",
		CreatedAt:  5000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessagePending(localID); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueOp(&store.PendingOp{
		OpID:     "op-1",
		Kind:     store.OpSendMessage,
		LocalRef: localID,
		ScopeID:  chatID,
	}); err != nil {
		t.Fatal(err)
	}

	// Another device uploaded the same write; the poll now returns it
	// with server id 77.
	resp := &remote.MessagesResponse{
		Success: true,
		Messages: []remote.MessageDTO{
			{ID: 77, SenderID: "alice", Kind: store.KindText, Text: "offline draft", CreatedAt: 5000},
		},
	}
	if err := r.IngestMessages(chatID, resp); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want the adopted single row", len(msgs))
	}
	if msgs[0].LocalID != localID {
		t.Errorf("row identity changed: %d != %d", msgs[0].LocalID, localID)
	}
	if msgs[0].ServerID != 77 || msgs[0].SyncStatus != store.StatusSynced {
		t.Errorf("adopted row = %+v", msgs[0])
	}

	n, err := db.PendingOpCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pending op not retired, %d left", n)
	}
}

func TestIngestMessagesReplayConverges(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	resp := &remote.MessagesResponse{
		Success: true,
		Messages: []remote.MessageDTO{
			{ID: 1, SenderID: "bob", Kind: store.KindText, Text: "a", CreatedAt: 100},
			{ID: 2, SenderID: "bob", Kind: store.KindText, Text: "b", CreatedAt: 200},
		},
	}
	for i := 0; i < 3; i++ {
		if err := r.IngestMessages(chatID, resp); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("replay produced %d rows, want 2", n)
	}
}

func TestIngestMessagesRefreshesEditsAndDeletes(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	first := &remote.MessagesResponse{Success: true, Messages: []remote.MessageDTO{
		{ID: 5, SenderID: "bob", Kind: store.KindText, Text: "original", CreatedAt: 100},
	}}
	if err := r.IngestMessages(chatID, first); err != nil {
		t.Fatal(err)
	}

	second := &remote.MessagesResponse{Success: true, Messages: []remote.MessageDTO{
		{ID: 5, SenderID: "bob", Kind: store.KindText, Text: "edited", CreatedAt: 100, EditedAt: 150, IsDeleted: 0},
	}}
	if err := r.IngestMessages(chatID, second); err != nil {
		t.Fatal(err)
	}

	msg, err := db.GetMessageByServerID(chatID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "edited" || msg.EditedAt != 150 {
		t.Errorf("edit not applied: %+v", msg)
	}

	third := &remote.MessagesResponse{Success: true, Messages: []remote.MessageDTO{
		{ID: 5, SenderID: "bob", Kind: store.KindText, Text: "edited", CreatedAt: 100, EditedAt: 150, IsDeleted: 1},
	}}
	if err := r.IngestMessages(chatID, third); err != nil {
		t.Fatal(err)
	}
	msg, err = db.GetMessageByServerID(chatID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.Deleted {
		t.Error("tombstone not applied")
	}
}

func TestVanishModeOffClearsVanishMessages(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	on := &remote.MessagesResponse{Success: true, VanishMode: true, Messages: []remote.MessageDTO{
		{ID: 1, SenderID: "bob", Kind: store.KindVanish, Text: "secret", CreatedAt: 100},
		{ID: 2, SenderID: "bob", Kind: store.KindText, Text: "keep", CreatedAt: 200},
	}}
	if err := r.IngestMessages(chatID, on); err != nil {
		t.Fatal(err)
	}

	off := &remote.MessagesResponse{Success: true, VanishMode: false, Messages: []remote.MessageDTO{
		{ID: 2, SenderID: "bob", Kind: store.KindText, Text: "keep", CreatedAt: 200},
	}}
	if err := r.IngestMessages(chatID, off); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Kind != store.KindText {
		t.Errorf("vanish messages not cleared: %+v", msgs)
	}
}

func TestVanishClearSurvivesRefetch(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)
	chatID := store.ChatID("alice", "bob")

	on := &remote.MessagesResponse{Success: true, VanishMode: true, Messages: []remote.MessageDTO{
		{ID: 1, SenderID: "bob", Kind: store.KindVanish, Text: "secret", CreatedAt: 100},
		{ID: 2, SenderID: "bob", Kind: store.KindText, Text: "keep", CreatedAt: 200},
	}}
	if err := r.IngestMessages(chatID, on); err != nil {
		t.Fatal(err)
	}

	// The service never deletes vanish messages, so a fetch after the
	// mode switched off still carries them.
	off := &remote.MessagesResponse{Success: true, VanishMode: false, Messages: on.Messages}
	if err := r.IngestMessages(chatID, off); err != nil {
		t.Fatal(err)
	}
	if err := r.IngestMessages(chatID, off); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Kind != store.KindText {
		t.Fatalf("cleared vanish message came back: %+v", msgs)
	}

	// A vanish message created after the clear is new and must land.
	fresh := &remote.MessagesResponse{Success: true, VanishMode: true, Messages: []remote.MessageDTO{
		{ID: 3, SenderID: "bob", Kind: store.KindVanish, Text: "again", CreatedAt: time.Now().UnixMilli() + 1000},
	}}
	if err := r.IngestMessages(chatID, fresh); err != nil {
		t.Fatal(err)
	}
	msgs, err = db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("fresh vanish message not ingested: %+v", msgs)
	}
}

func TestIngestChats(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)

	dtos := []remote.ChatDTO{
		{OtherUserID: "bob", OtherUsername: "Bob", LastMessageText: "yo", LastMessageAt: 900},
		{OtherUserID: "carol", OtherUsername: "Carol", LastMessageText: "later", LastMessageAt: 400},
	}
	if err := r.IngestChats("alice", dtos); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats", len(chats))
	}
	if chats[0].OtherUserID != "bob" {
		t.Errorf("chat order wrong: %+v", chats)
	}

	u, err := db.GetUser("carol")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Username != "Carol" {
		t.Errorf("user cache not populated: %+v", u)
	}
}

func TestIngestPostsAdoptsLocalAndAppliesAggregates(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)

	localID, err := db.InsertLocalPost(&store.Post{
		OwnerID:   "alice",
		Caption:   "sunset",
		CreatedAt: 3000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueOp(&store.PendingOp{
		OpID:     "op-p",
		Kind:     store.OpCreatePost,
		LocalRef: localID,
	}); err != nil {
		t.Fatal(err)
	}

	dtos := []remote.PostDTO{
		{ID: "p1", UserID: "alice", Username: "Alice", Caption: "sunset",
			LikesCount: 3, CommentsCount: 1, LikedByUser: true, CreatedAt: 3000},
	}
	if err := r.IngestPosts(dtos); err != nil {
		t.Fatal(err)
	}

	feed, err := db.ListFeed()
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 {
		t.Fatalf("got %d posts, want the adopted single row", len(feed))
	}
	p := feed[0]
	if p.LocalID != localID || p.ServerID != "p1" {
		t.Errorf("adoption failed: %+v", p)
	}
	if p.LikesCount != 3 || !p.LikedByMe || p.CommentsCount != 1 {
		t.Errorf("server aggregates lost: %+v", p)
	}

	n, err := db.PendingOpCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pending post op not retired")
	}
}

func TestIngestStoriesPrunesExpired(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)

	now := int64(1_000_000)
	dtos := []remote.StoryDTO{
		{ID: "s1", UserID: "bob", MediaType: "image", CreatedAt: now - 100, ExpiresAt: now + 1000},
	}
	if err := r.IngestStories(dtos, now); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertServerStory(&store.Story{
		ServerID: "s-old", OwnerID: "carol", MediaType: "image",
		CreatedAt: now - 90000, ExpiresAt: now - 1,
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.IngestStories(dtos, now); err != nil {
		t.Fatal(err)
	}
	stories, err := db.ListActiveStories(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 || stories[0].ServerID != "s1" {
		t.Errorf("active stories = %+v", stories)
	}
}

func TestIngestCommentsAdoptsLocal(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db)

	localID, err := db.InsertLocalComment(&store.Comment{
		PostID:    "p1",
		OwnerID:   "alice",
		Body:      "nice shot",
		CreatedAt: 7000,
	})
	if err != nil {
		t.Fatal(err)
	}

	dtos := []remote.CommentDTO{
		{ID: "c1", PostID: "p1", UserID: "alice", Username: "Alice", Text: "nice shot", CreatedAt: 7000},
		{ID: "c2", PostID: "p1", UserID: "bob", Username: "Bob", Text: "agreed", CreatedAt: 7500},
	}
	if err := r.IngestComments("p1", dtos); err != nil {
		t.Fatal(err)
	}

	comments, err := db.ListComments("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].LocalID != localID || comments[0].ServerID != "c1" {
		t.Errorf("comment adoption failed: %+v", comments[0])
	}
}
