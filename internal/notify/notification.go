package notify

import (
	"fmt"
	"math"
	"time"
)

// Type discriminates notification kinds.
type Type string

const (
	TypeMatch  Type = "match"
	TypeSystem Type = "system"
)

// MatchData is the structured payload of a match notification.
type MatchData struct {
	SourceItemID     string `json:"sourceItemId"`
	MatchedItemID    string `json:"matchedItemId"`
	SourceItemName   string `json:"sourceItemName,omitempty"`
	MatchedItemName  string `json:"matchedItemName,omitempty"`
	SourceItemImage  string `json:"sourceItemImage,omitempty"`
	MatchedItemImage string `json:"matchedItemImage,omitempty"`
	Score            int    `json:"score"` // similarity as integer percent
	OwnerName        string `json:"ownerName,omitempty"`
	OwnerContact     string `json:"ownerContact,omitempty"`
}

// Notification is one entry of the store. Ids are generated locally and
// are monotonic; CreatedAt round-trips through storage as RFC3339.
type Notification struct {
	ID        string     `json:"id"`
	Type      Type       `json:"type"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Data      *MatchData `json:"data,omitempty"`
}

// dedupKey returns the (type, sourceItemId, matchedItemId) identity used
// to keep at most one active match notification per item pair. Only match
// notifications with a payload have one.
func dedupKey(n Notification) (string, bool) {
	if n.Type != TypeMatch || n.Data == nil {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%s", n.Type, n.Data.SourceItemID, n.Data.MatchedItemID), true
}

// samePair reports whether two notifications cover the same match pair.
func samePair(a, b Notification) bool {
	ka, ok := dedupKey(a)
	if !ok {
		return false
	}
	kb, ok := dedupKey(b)
	return ok && ka == kb
}

// ScorePercent normalizes a similarity score to an integer percentage.
// Values already at or above 1 are taken as percentages; fractional
// values are scaled by 100. Both are rounded.
func ScorePercent(score float64) int {
	if score < 1 {
		score *= 100
	}
	return int(math.Round(score))
}
