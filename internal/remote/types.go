package remote

// SendMessageRequest carries one message upload. CreatedAt is the client's
// original stamp and is echoed back by the server, which makes replays
// idempotent on (senderId, createdAt) and lets the dedup step match the
// polled copy of the same write. MediaPath references the locally-copied
// media file; the response carries the canonical server URL.
type SendMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Kind       string `json:"type"`
	PostID     string `json:"postId,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	MediaPath  string `json:"mediaPath,omitempty"`
}

// SendMessageResponse is the server's acceptance of a message.
type SendMessageResponse struct {
	Success  bool   `json:"success"`
	ID       int64  `json:"id"`
	MediaURL string `json:"mediaUrl"`
}

// MessageDTO is a canonical message record as fetched from the server.
type MessageDTO struct {
	ID        int64  `json:"id"`
	SenderID  string `json:"sender_id"`
	Kind      string `json:"type"`
	Text      string `json:"text_content"`
	MediaURL  string `json:"media_url"`
	PostID    string `json:"post_id"`
	CreatedAt int64  `json:"created_at"`
	EditedAt  int64  `json:"edited_at"`
	IsDeleted int    `json:"is_deleted"`
}

// MessagesResponse is the full-scope fetch for one chat.
type MessagesResponse struct {
	Success    bool         `json:"success"`
	VanishMode bool         `json:"vanish_mode"`
	Messages   []MessageDTO `json:"messages"`
}

// ChatDTO is a chat summary as fetched from the server.
type ChatDTO struct {
	ServerChatID    int64  `json:"serverChatId"`
	OtherUserID     string `json:"otherUserId"`
	OtherUsername   string `json:"otherUserName"`
	OtherAvatarURL  string `json:"otherProfileImage"`
	LastMessageText string `json:"lastMessage"`
	LastMessageAt   int64  `json:"lastMessageTime"`
}

// PostDTO is a feed post as fetched from the server, including the
// caller-specific like flag.
type PostDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	AvatarURL     string `json:"userProfileImageUrl"`
	MediaURL      string `json:"mediaUrl"`
	Caption       string `json:"caption"`
	LikesCount    int    `json:"likesCount"`
	CommentsCount int    `json:"commentsCount"`
	LikedByUser   bool   `json:"likedByUser"`
	CreatedAt     int64  `json:"createdAt"`
}

// UploadPostRequest carries one post upload.
type UploadPostRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"userProfileImageUrl"`
	Caption   string `json:"caption"`
	CreatedAt int64  `json:"createdAt"`
	MediaPath string `json:"mediaPath"`
}

// UploadResponse is the server's acceptance of a post, story or comment.
type UploadResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	MediaURL string `json:"mediaUrl"`
}

// LikeResponse is the authoritative like aggregate after a toggle.
type LikeResponse struct {
	LikesCount  int  `json:"likesCount"`
	LikedByUser bool `json:"likedByUser"`
}

// CommentDTO is a comment as fetched from the server.
type CommentDTO struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"userProfileImageUrl"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// AddCommentRequest carries one comment upload.
type AddCommentRequest struct {
	PostID    string `json:"postId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"userProfileImageUrl"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// StoryDTO is a story as fetched from the server.
type StoryDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"userProfileImageUrl"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// UploadStoryRequest carries one story upload.
type UploadStoryRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"userProfileImageUrl"`
	MediaType string `json:"mediaType"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
	MediaPath string `json:"mediaPath"`
}

// PresenceStatus is one user's presence as reported by the server.
// LastActive == 0 is the sentinel for an explicit go-offline.
type PresenceStatus struct {
	UID        string `json:"uid"`
	Status     string `json:"status"`
	LastActive int64  `json:"lastActive"`
}

type statusesResponse struct {
	Success  bool             `json:"success"`
	Statuses []PresenceStatus `json:"statuses"`
}
