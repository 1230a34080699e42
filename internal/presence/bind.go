package presence

import (
	"encoding/json"

	"lostlink/internal/channel"
)

// Channel is the slice of the connection surface presence listens on.
type Channel interface {
	On(event, id string, fn channel.Handler) string
}

// Bind registers the presence event handlers on the chat channel.
// Handler ids are fixed so rebinding collapses instead of stacking.
func (t *Tracker) Bind(ch Channel) {
	ch.On(channel.EventOnlineUsers, "presence-snapshot", func(data json.RawMessage) {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return
		}
		t.SetAll(ids)
	})
	ch.On(channel.EventUserStatusChanged, "presence-delta", func(data json.RawMessage) {
		var d channel.PresenceDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		t.Update(d.UserID, d.IsOnline)
	})
}
