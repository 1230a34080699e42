package match

import (
	"bytes"
	"encoding/json"

	"lostlink/internal/notify"
)

// Item is a lost-or-found item as reported by the matching service.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Status   string `json:"status"`
}

// Resolved reports whether the item no longer needs matching.
func (i Item) Resolved() bool {
	return i.Status == "resolved" || i.Status == "returned"
}

// Candidate is one normalized match suggestion with an integer
// percentage score.
type Candidate struct {
	Item  Item
	Score int
}

// rawMatch accepts the shapes the matching service has been seen to
// produce: either {item: {...}, score} or a flattened item with the
// score inlined.
type rawMatch struct {
	Item  *Item    `json:"item"`
	Score *float64 `json:"score"`

	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Status   string `json:"status"`
}

func (m rawMatch) plausible() bool {
	return m.Score != nil || m.Item != nil || m.ID != ""
}

func (m rawMatch) candidate() Candidate {
	c := Candidate{}
	if m.Item != nil {
		c.Item = *m.Item
	} else {
		c.Item = Item{ID: m.ID, Name: m.Name, ImageURL: m.ImageURL, Status: m.Status}
	}
	if m.Score != nil {
		c.Score = notify.ScorePercent(*m.Score)
	}
	return c
}

// Normalize converts a matching-service response into a canonical
// candidate list. It tries each known shape in priority order: a bare
// array of matches, an object with a "matches" array, and finally an
// object whose first array-valued property holds plausible match
// objects. Anything else normalizes to an empty list.
func Normalize(raw json.RawMessage) []Candidate {
	if ms, ok := parseMatches(raw); ok {
		return toCandidates(ms)
	}

	var wrapped struct {
		Matches []rawMatch `json:"matches"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Matches != nil {
		return toCandidates(wrapped.Matches)
	}

	if ms, ok := firstArrayProperty(raw); ok {
		return toCandidates(ms)
	}
	return nil
}

func parseMatches(raw json.RawMessage) ([]rawMatch, bool) {
	var ms []rawMatch
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, false
	}
	if len(ms) > 0 && !ms[0].plausible() {
		return nil, false
	}
	return ms, true
}

// firstArrayProperty walks the object's keys in document order and
// returns the first property that parses as a plausible match array.
func firstArrayProperty(raw json.RawMessage) ([]rawMatch, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil { // key
			return nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		if ms, ok := parseMatches(value); ok && len(ms) > 0 {
			return ms, true
		}
	}
	return nil, false
}

func toCandidates(ms []rawMatch) []Candidate {
	out := make([]Candidate, 0, len(ms))
	for _, m := range ms {
		if !m.plausible() {
			continue
		}
		out = append(out, m.candidate())
	}
	return out
}
