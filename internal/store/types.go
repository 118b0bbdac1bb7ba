package store

// SyncStatus tracks where a cached record is in its local lifetime.
// Transitions only move forward: local -> pending -> synced, or directly
// local -> synced on a successful inline send. A synced row never goes back.
type SyncStatus string

const (
	StatusLocal   SyncStatus = "local"
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
)

// Pending operation kinds.
const (
	OpSendMessage = "send_message"
	OpCreatePost  = "create_post"
	OpCreateStory = "create_story"
	OpToggleLike  = "toggle_like"
	OpAddComment  = "add_comment"
)

// Message kinds, mirroring the remote service's type column.
const (
	KindText        = "TEXT"
	KindImage       = "IMAGE"
	KindVideo       = "VIDEO"
	KindFile        = "FILE"
	KindPostShare   = "POST_SHARE"
	KindVanish      = "VANISH"
	KindVanishImage = "VANISH_IMAGE"
)

// Chat represents a cached chat summary.
type Chat struct {
	ChatID          string
	ServerChatID    int64
	OtherUserID     string
	OtherUsername   string
	OtherAvatarURL  string
	LastMessageText string
	LastMessageAt   int64
	VanishMode      bool
}

// Message represents a cached message. LocalID is assigned on insert and is
// stable for the row's whole local lifetime; ServerID arrives once the remote
// service accepts the record and never changes afterwards.
type Message struct {
	LocalID    int64
	ServerID   int64 // 0 until assigned
	ChatID     string
	SenderID   string
	ReceiverID string
	Kind       string
	Body       string
	MediaURL   string
	PostID     string
	CreatedAt  int64
	EditedAt   int64
	Deleted    bool
	SyncStatus SyncStatus
}

// Post represents a cached feed post.
type Post struct {
	LocalID       int64
	ServerID      string // "" until assigned
	OwnerID       string
	Username      string
	AvatarURL     string
	MediaURL      string
	Caption       string
	LikesCount    int
	CommentsCount int
	LikedByMe     bool
	CreatedAt     int64
	SyncStatus    SyncStatus
}

// Story represents a cached story; expires 24h after creation.
type Story struct {
	LocalID    int64
	ServerID   string
	OwnerID    string
	Username   string
	AvatarURL  string
	MediaURL   string
	MediaType  string // "image" or "video"
	CreatedAt  int64
	ExpiresAt  int64
	SyncStatus SyncStatus
}

// Comment represents a cached comment on a post.
type Comment struct {
	LocalID    int64
	ServerID   string
	PostID     string
	OwnerID    string
	Username   string
	AvatarURL  string
	Body       string
	CreatedAt  int64
	SyncStatus SyncStatus
}

// User represents a cached profile of another user.
type User struct {
	UID       string
	Username  string
	AvatarURL string
}

// PendingOp is one queued write awaiting upload. OpID is assigned once at
// enqueue time and reused on every retry, so replays carry a stable
// idempotency key. At most one unresolved op exists per (kind, local row).
type PendingOp struct {
	OpID       string
	Kind       string
	LocalRef   int64
	ScopeID    string
	Payload    string
	EnqueuedAt int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
