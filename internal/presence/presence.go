package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
)

type record struct {
	sessions int
	lastSeen int64
}

// Tracker derives online/offline/last-seen state from session bind and
// unbind transitions. An identity is online iff at least one live
// session is bound to it.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Bound registers one more live session for an identity. Coming online
// clears the last-seen timestamp.
func (t *Tracker) Bound(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[identity]
	if !ok {
		rec = &record{}
		t.records[identity] = rec
	}
	rec.sessions++
	rec.lastSeen = 0
}

// Unbound releases one live session. When the last session for an
// identity goes away the identity flips offline and last-seen is
// stamped with the current time.
func (t *Tracker) Unbound(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[identity]
	if !ok || rec.sessions == 0 {
		return
	}
	rec.sessions--
	if rec.sessions == 0 {
		rec.lastSeen = t.now().Unix()
	}
}

func (t *Tracker) Online(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[identity]
	return ok && rec.sessions > 0
}

// OnlineCount returns the number of distinct identities currently online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, rec := range t.records {
		if rec.sessions > 0 {
			count++
		}
	}
	return count
}

func (t *Tracker) OnlineIdentities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var identities []string
	for identity, rec := range t.records {
		if rec.sessions > 0 {
			identities = append(identities, identity)
		}
	}
	return identities
}

// Info reports the presence of an identity. An identity that has never
// been online comes back offline with a zero last-seen, distinct from
// offline with a timestamp.
func (t *Tracker) Info(identity string) models.PresenceInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := models.PresenceInfo{Identity: identity}
	rec, ok := t.records[identity]
	if !ok {
		return info
	}
	info.Online = rec.sessions > 0
	info.LastSeen = rec.lastSeen
	return info
}

// RunJanitor wipes all last-seen records once a day at midnight. This is
// a scheduled full reset, not per-entry expiry; online counters are
// untouched.
func (t *Tracker) RunJanitor(ctx context.Context) {
	for {
		now := t.now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			t.wipeLastSeen()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (t *Tracker) wipeLastSeen() {
	t.mu.Lock()
	defer t.mu.Unlock()

	wiped := 0
	for identity, rec := range t.records {
		if rec.sessions == 0 {
			delete(t.records, identity)
			wiped++
			continue
		}
		rec.lastSeen = 0
	}
	slog.Info("presence janitor wiped last-seen records", "count", wiped)
}
