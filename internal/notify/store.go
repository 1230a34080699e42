package notify

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"lostlink/internal/bus"
	"lostlink/internal/storage"
)

// Durable storage keys. The full collection is written to both on every
// mutation; the backup is the recovery source when the primary is missing
// or corrupt.
const (
	PrimaryKey = "notifications"
	BackupKey  = "notifications_backup"
)

// Store is the durable, deduplicated notification collection, ordered
// most-recent-insertion-first. All mutations are atomic read-modify-write
// over the current snapshot under one mutex, and persist before the lock
// is released so no two mutations ever observe a stale intermediate state.
type Store struct {
	kv        storage.KV
	bus       *bus.Bus
	logger    *zap.Logger
	protected map[int]bool

	mu     sync.Mutex
	items  []Notification
	lastID int64
}

// NewStore loads the collection from durable storage. A missing or
// unparsable primary entry falls back to the backup; corruption is logged,
// never surfaced — a store always comes up, worst case empty.
func NewStore(kv storage.KV, protectedScores []int, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:        kv,
		bus:       b,
		logger:    logger,
		protected: make(map[int]bool, len(protectedScores)),
	}
	for _, score := range protectedScores {
		s.protected[score] = true
	}
	s.load()
	return s
}

func (s *Store) load() {
	items, err := s.loadKey(PrimaryKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("primary notification snapshot unreadable, trying backup", zap.Error(err))
		}
		items, err = s.loadKey(BackupKey)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Error("backup notification snapshot unreadable, starting empty", zap.Error(err))
			}
			items = nil
		} else {
			s.logger.Info("notifications recovered from backup", zap.Int("count", len(items)))
		}
	}

	s.items = items
	for _, n := range s.items {
		if id, perr := strconv.ParseInt(n.ID, 10, 64); perr == nil && id > s.lastID {
			s.lastID = id
		}
	}
}

func (s *Store) loadKey(key string) ([]Notification, error) {
	raw, err := s.kv.Get(key)
	if err != nil {
		return nil, err
	}
	var items []Notification
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Add inserts a notification at the head, assigning its id and creation
// time. For match notifications an existing active entry with the same
// (type, sourceItemId, matchedItemId) key wins: the call is a no-op and
// the existing entry is returned. This first-wins guard covers genuinely
// new insertions racing inside the store; reconciliation uses Replace for
// its newest-wins policy.
func (s *Store) Add(n Notification) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := dedupKey(n); ok {
		for _, existing := range s.items {
			if k, ok := dedupKey(existing); ok && k == key {
				return existing, false
			}
		}
	}

	n = s.insertLocked(n)
	s.persistLocked()
	s.emit("notify.added", n)
	return n, true
}

// Replace atomically removes any active notification covering the same
// match pair and inserts the new one. It deliberately bypasses the
// protected-score rule: that rule guards user-initiated removal, and
// blocking replacement would pin stale data to a protected pair forever.
func (s *Store) Replace(n Notification) Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	s.items = slices.DeleteFunc(s.items, func(existing Notification) bool {
		if samePair(existing, n) {
			replaced = true
			return true
		}
		return false
	})

	n = s.insertLocked(n)
	s.persistLocked()
	if replaced {
		s.emit("notify.replaced", n)
	} else {
		s.emit("notify.added", n)
	}
	return n
}

// MarkRead flags one notification as read. Returns false for unknown ids.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].Read {
				s.items[i].Read = true
				s.persistLocked()
				s.emit("notify.read", id)
			}
			return true
		}
	}
	return false
}

// MarkAllRead flags every notification as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	if changed {
		s.persistLocked()
		s.emit("notify.read", "*")
	}
}

// Remove deletes a notification. A match notification whose score is in
// the protected set may only be removed while at least one other active
// notification carries the same protected score; otherwise the call is a
// silent no-op so a flagged match cannot be lost by accident.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
	if idx < 0 {
		return false
	}

	n := s.items[idx]
	if n.Type == TypeMatch && n.Data != nil && s.protected[n.Data.Score] {
		if !s.hasOtherWithScoreLocked(idx, n.Data.Score) {
			s.logger.Info("refusing to remove sole protected notification",
				zap.String("id", id), zap.Int("score", n.Data.Score))
			return false
		}
	}

	s.items = slices.Delete(s.items, idx, idx+1)
	s.persistLocked()
	s.emit("notify.removed", id)
	return true
}

// Compact resolves accumulated duplicates: active match notifications are
// grouped by pair key and each group keeps exactly one entry — highest
// score, ties broken by newest creation time. Idempotent. Returns the
// number of entries discarded.
func (s *Store) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	winners := make(map[string]int) // key -> index of the entry to keep
	for i, n := range s.items {
		key, ok := dedupKey(n)
		if !ok {
			continue
		}
		w, seen := winners[key]
		if !seen || better(n, s.items[w]) {
			winners[key] = i
		}
	}

	kept := s.items[:0:0]
	removed := 0
	for i, n := range s.items {
		if key, ok := dedupKey(n); ok && winners[key] != i {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	if removed == 0 {
		return 0
	}

	s.items = kept
	s.persistLocked()
	s.emit("notify.compacted", removed)
	return removed
}

// better reports whether a should win over b within one pair group.
func better(a, b Notification) bool {
	if a.Data.Score != b.Data.Score {
		return a.Data.Score > b.Data.Score
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// All returns a copy of the collection, most recent first.
func (s *Store) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Get returns one notification by id.
func (s *Store) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// insertLocked assigns id and creation time and prepends. Caller holds mu.
func (s *Store) insertLocked(n Notification) Notification {
	id := time.Now().UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	n.ID = strconv.FormatInt(id, 10)
	n.CreatedAt = time.Now()
	s.items = append([]Notification{n}, s.items...)
	return n
}

// persistLocked serializes the full collection to the primary key and
// mirrors it to the backup key. If the primary write fails, the
// last-known-good backup is copied back over the primary; every failure
// here is logged and absorbed, never raised. Caller holds mu.
func (s *Store) persistLocked() {
	items := s.items
	if items == nil {
		items = []Notification{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		s.logger.Error("serialize notifications failed", zap.Error(err))
		return
	}

	if err := s.kv.Put(PrimaryKey, string(data)); err != nil {
		s.logger.Error("write primary notification snapshot failed", zap.Error(err))
		backup, berr := s.kv.Get(BackupKey)
		if berr != nil {
			s.logger.Error("no backup snapshot available for recovery", zap.Error(berr))
			return
		}
		if cerr := s.kv.Put(PrimaryKey, backup); cerr != nil {
			s.logger.Error("restore primary from backup failed", zap.Error(cerr))
		}
		return
	}
	if err := s.kv.Put(BackupKey, string(data)); err != nil {
		s.logger.Error("write backup notification snapshot failed", zap.Error(err))
	}
}

func (s *Store) emit(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}

// hasOtherWithScoreLocked reports whether any entry other than items[idx]
// is an active match notification with the given score. Caller holds mu.
func (s *Store) hasOtherWithScoreLocked(idx, score int) bool {
	for i, other := range s.items {
		if i == idx {
			continue
		}
		if other.Type == TypeMatch && other.Data != nil && other.Data.Score == score {
			return true
		}
	}
	return false
}
