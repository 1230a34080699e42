package channel

import "encoding/json"

// Wire event names for the two logical channels.
//
// Chat channel, outbound: RegisterUser, JoinChat, LeaveChat, SendMessage,
// UpdateMessageStatus, GetUserChats. Inbound: ChatHistory, NewMessage,
// UserChats, MessageStatusUpdated, UserStatusChanged, OnlineUsers, ErrorEvent.
// Notify channel: outbound Authenticate, inbound Notification.
const (
	EventRegisterUser         = "register_user"
	EventJoinChat             = "join_chat"
	EventLeaveChat            = "leave_chat"
	EventSendMessage          = "send_message"
	EventUpdateMessageStatus  = "update_message_status"
	EventGetUserChats         = "get_user_chats"
	EventChatHistory          = "chat_history"
	EventNewMessage           = "new_message"
	EventUserChats            = "user_chats"
	EventMessageStatusUpdated = "message_status_updated"
	EventUserStatusChanged    = "user_status_changed"
	EventOnlineUsers          = "online_users"
	EventError                = "error"
	EventAuthenticate         = "authenticate"
	EventNotification         = "notification"
)

// Envelope is the JSON frame exchanged on a channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler is an event callback. Handlers run on the read loop goroutine
// in registration order; they must not block.
type Handler func(data json.RawMessage)

// Error is the transport-level failure shape. Channel errors are published
// on the bus and logged, never returned to domain callers.
type Error struct {
	Message string `json:"message"`
}

func (e Error) Error() string {
	return e.Message
}

// AuthPayload is the identity claim sent on register_user / authenticate.
type AuthPayload struct {
	UserID string `json:"userId"`
}

// PresenceDelta is the user_status_changed payload.
type PresenceDelta struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
