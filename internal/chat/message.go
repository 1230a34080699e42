package chat

import "time"

// Status is the delivery state of a message. Within one client session the
// status of a given message id only ever moves forward through
// sent → delivered → read; downgrades are ignored.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// Message is one chat message. Ids are assigned by the remote side; local
// state never deletes messages (chat history is remote-authoritative).
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"status"`
}

// OutboundMessage is the send_message payload.
type OutboundMessage struct {
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// StatusUpdate is the update_message_status / message_status_updated payload.
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}

// RoomRef addresses a room in join_chat / leave_chat payloads.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// RoomSummary is one entry of the user_chats listing.
type RoomSummary struct {
	RoomID        string    `json:"roomId"`
	PeerID        string    `json:"peerId"`
	PeerName      string    `json:"peerName"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}
