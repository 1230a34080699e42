package notify

import (
	"encoding/json"

	"go.uber.org/zap"

	"lostlink/internal/channel"
)

// Channel is the slice of the connection surface the store listens on.
type Channel interface {
	On(event, id string, fn channel.Handler) string
}

// inboundNotification is the wire shape of the notify channel's
// notification event.
type inboundNotification struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Data    *struct {
		SourceItemID  string  `json:"sourceItemId"`
		MatchedItemID string  `json:"matchedItemId"`
		Score         float64 `json:"score"`
		MatchedItem   *struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			ImageURL string `json:"imageUrl"`
		} `json:"matchedItem"`
	} `json:"data"`
}

// Bind registers the notification event handler on the notify channel.
// Pushed notifications go through Add, so the first-wins dedup guard
// applies to server pushes exactly as it does to local inserts.
func (s *Store) Bind(ch Channel) {
	ch.On(channel.EventNotification, "notify-inbound", func(data json.RawMessage) {
		var in inboundNotification
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Warn("malformed notification payload", zap.Error(err))
			return
		}

		n := Notification{
			Type:    Type(in.Type),
			Title:   in.Title,
			Message: in.Message,
		}
		if n.Type != TypeMatch && n.Type != TypeSystem {
			n.Type = TypeSystem
		}
		if in.Data != nil {
			md := &MatchData{
				SourceItemID:  in.Data.SourceItemID,
				MatchedItemID: in.Data.MatchedItemID,
				Score:         ScorePercent(in.Data.Score),
			}
			if in.Data.MatchedItem != nil {
				if md.MatchedItemID == "" {
					md.MatchedItemID = in.Data.MatchedItem.ID
				}
				md.MatchedItemName = in.Data.MatchedItem.Name
				md.MatchedItemImage = in.Data.MatchedItem.ImageURL
			}
			n.Data = md
		}
		s.Add(n)
	})
}
