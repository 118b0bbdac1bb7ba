package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, so "message." receives every message event.
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindChatUpserted      = "chat.upserted"
	KindPostUpserted      = "post.upserted"
	KindStoryUpserted     = "story.upserted"
	KindCommentUpserted   = "comment.upserted"
	KindNetOnline         = "net.online"
	KindNetOffline        = "net.offline"
	KindSyncDrained       = "sync.drained"
	KindSyncRejected      = "sync.rejected"
	KindPresenceUpdated   = "presence.updated"
)

// Now returns an event of the given kind stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
