package chat

import (
	"encoding/json"
	"slices"
	"sync"

	"go.uber.org/zap"

	"lostlink/internal/bus"
	"lostlink/internal/channel"
)

// Channel is the slice of the connection surface the manager uses.
type Channel interface {
	Emit(event string, payload any) error
	On(event, id string, fn channel.Handler) string
	Off(event, id string)
}

type roomPhase string

const (
	phaseJoining roomPhase = "joining"
	phaseJoined  roomPhase = "joined"
)

type room struct {
	phase    roomPhase
	loading  bool
	messages []Message
}

// Manager keeps per-room ordered message lists in sync with the chat
// channel and drives the sent → delivered → read status machine. Rooms are
// keyed by match id. Messages appear in arrival order as delivered by the
// channel, not wall-clock order.
type Manager struct {
	ch     Channel
	bus    *bus.Bus
	logger *zap.Logger
	userID string

	mu         sync.Mutex
	rooms      map[string]*room
	msgRoom    map[string]string // message id -> room id, for status routing
	statusSeen map[string]Status // highest status observed per message id this session
	summaries  []RoomSummary
}

// NewManager creates a manager for the given current user identity.
func NewManager(ch Channel, userID string, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ch:         ch,
		bus:        b,
		logger:     logger,
		userID:     userID,
		rooms:      make(map[string]*room),
		msgRoom:    make(map[string]string),
		statusSeen: make(map[string]Status),
	}
}

// Bind registers the inbound chat event handlers. Fixed ids make
// rebinding collapse instead of stacking.
func (m *Manager) Bind() {
	m.ch.On(channel.EventChatHistory, "chat-history", m.onHistory)
	m.ch.On(channel.EventNewMessage, "chat-new-message", m.onNewMessage)
	m.ch.On(channel.EventMessageStatusUpdated, "chat-status-updated", m.onStatusUpdated)
	m.ch.On(channel.EventUserChats, "chat-user-chats", m.onUserChats)
}

// Join sends a join request for the room and marks it loading until the
// history snapshot arrives. Joining an already-joined room restarts its
// lifecycle (the snapshot replaces the list wholesale anyway).
func (m *Manager) Join(roomID string) {
	m.mu.Lock()
	m.rooms[roomID] = &room{phase: phaseJoining, loading: true}
	m.mu.Unlock()

	_ = m.ch.Emit(channel.EventJoinChat, RoomRef{RoomID: roomID})
}

// Leave sends a leave request and drops the room state. Safe to call for a
// room that was never joined, including one whose join was never
// acknowledged.
func (m *Manager) Leave(roomID string) {
	_ = m.ch.Emit(channel.EventLeaveChat, RoomRef{RoomID: roomID})

	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
}

// SendMessage emits a message. Fire-and-forget: there is no optimistic
// local append — the message becomes visible only when the remote side
// echoes it back as a new_message event.
func (m *Manager) SendMessage(roomID, senderID, receiverID, content string) {
	_ = m.ch.Emit(channel.EventSendMessage, OutboundMessage{
		RoomID:     roomID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	})
}

// RequestRooms asks the server for the user's chat room summaries.
func (m *Manager) RequestRooms() {
	_ = m.ch.Emit(channel.EventGetUserChats, channel.AuthPayload{UserID: m.userID})
}

// Messages returns a copy of the room's ordered message list.
func (m *Manager) Messages(roomID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(r.messages)
}

// Loading reports whether the room is waiting for its history snapshot.
func (m *Manager) Loading(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	return ok && r.loading
}

// Joined reports whether the room has received its history snapshot.
func (m *Manager) Joined(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	return ok && r.phase == phaseJoined
}

// Rooms returns a copy of the last received room summary list.
func (m *Manager) Rooms() []RoomSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.summaries)
}

// onHistory applies a history snapshot: the target room's message list is
// replaced wholesale, and a read status update is requested once per
// message addressed to the current user that is not yet read. Repeated
// snapshots re-request for still-unread messages; the server-side update
// is idempotent.
func (m *Manager) onHistory(data json.RawMessage) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		m.logger.Warn("malformed chat_history payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	roomID, r := m.historyRoom(msgs)
	if r == nil {
		m.mu.Unlock()
		m.logger.Warn("chat_history for unknown room", zap.String("room", roomID))
		return
	}

	var unread []string
	for i := range msgs {
		// Merge with the session-wide monotonic status floor.
		if seen, ok := m.statusSeen[msgs[i].ID]; ok && statusRank[seen] > statusRank[msgs[i].Status] {
			msgs[i].Status = seen
		}
		m.statusSeen[msgs[i].ID] = msgs[i].Status
		m.msgRoom[msgs[i].ID] = roomID
		if msgs[i].ReceiverID == m.userID && msgs[i].Status != StatusRead {
			unread = append(unread, msgs[i].ID)
		}
	}
	r.messages = msgs
	r.phase = phaseJoined
	r.loading = false
	m.mu.Unlock()

	for _, id := range unread {
		_ = m.ch.Emit(channel.EventUpdateMessageStatus, StatusUpdate{MessageID: id, Status: StatusRead})
	}
	m.bus.Emit("chat.history_loaded", roomID)
}

// historyRoom resolves which room a snapshot belongs to: the room id on
// the payload when present, otherwise the single room still joining (an
// empty history for a fresh chat carries no ids). Caller holds m.mu.
func (m *Manager) historyRoom(msgs []Message) (string, *room) {
	if len(msgs) > 0 && msgs[0].RoomID != "" {
		if r, ok := m.rooms[msgs[0].RoomID]; ok {
			return msgs[0].RoomID, r
		}
		return msgs[0].RoomID, nil
	}
	for id, r := range m.rooms {
		if r.phase == phaseJoining {
			return id, r
		}
	}
	return "", nil
}

// onNewMessage appends at the tail of the room's list, preserving arrival
// order, and immediately requests a read status update for messages not
// sent by the current user.
func (m *Manager) onNewMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("malformed new_message payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	r, ok := m.rooms[msg.RoomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if seen, ok := m.statusSeen[msg.ID]; ok && statusRank[seen] > statusRank[msg.Status] {
		msg.Status = seen
	}
	m.statusSeen[msg.ID] = msg.Status
	m.msgRoom[msg.ID] = msg.RoomID
	r.messages = append(r.messages, msg)
	fromSelf := msg.SenderID == m.userID
	m.mu.Unlock()

	if !fromSelf {
		_ = m.ch.Emit(channel.EventUpdateMessageStatus, StatusUpdate{MessageID: msg.ID, Status: StatusRead})
	}
	m.bus.Emit("chat.message_received", msg)
}

// onStatusUpdated mutates a message's status in place. Downgrades are
// ignored so status stays monotonic for the session.
func (m *Manager) onStatusUpdated(data json.RawMessage) {
	var upd StatusUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		m.logger.Warn("malformed message_status_updated payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	if seen, ok := m.statusSeen[upd.MessageID]; ok && statusRank[seen] >= statusRank[upd.Status] {
		m.mu.Unlock()
		return
	}
	m.statusSeen[upd.MessageID] = upd.Status
	if roomID, ok := m.msgRoom[upd.MessageID]; ok {
		if r, ok := m.rooms[roomID]; ok {
			for i := range r.messages {
				if r.messages[i].ID == upd.MessageID {
					r.messages[i].Status = upd.Status
					break
				}
			}
		}
	}
	m.mu.Unlock()

	m.bus.Emit("chat.status_updated", upd)
}

func (m *Manager) onUserChats(data json.RawMessage) {
	var summaries []RoomSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		m.logger.Warn("malformed user_chats payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.summaries = summaries
	m.mu.Unlock()

	m.bus.Emit("chat.rooms_updated", len(summaries))
}
