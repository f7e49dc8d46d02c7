package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/kvstore"
)

// Document key prefixes in the shared document table.
const (
	recordPrefix   = "activity#"
	notifiedPrefix = "notified#"
)

// Store persists activity records and applies the change-detection policy.
type Store struct {
	kv      kvstore.API
	nowFunc func() time.Time
}

// NewStore returns a Store over the shared document table.
func NewStore(kv kvstore.API) *Store {
	return &Store{
		kv:      kv,
		nowFunc: time.Now,
	}
}

// Get returns the record for identity, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, identity string) (*Record, error) {
	var rec Record
	found, err := s.kv.GetJSON(ctx, recordPrefix+identity, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// List returns every persisted activity record.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	entries, err := s.kv.List(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Doc, &rec); err != nil {
			// structurally broken document: skip, never retried
			log.Printf("[activity] dropping malformed record %s: %v", e.Key, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Save persists rec under its identity.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.Identity == "" {
		return fmt.Errorf("record has no identity")
	}
	return s.kv.SetJSON(ctx, recordPrefix+rec.Identity, rec)
}

// Remove deletes the record and its dedup markers for identity.
func (s *Store) Remove(ctx context.Context, identity string) error {
	if err := s.kv.Delete(ctx, recordPrefix+identity); err != nil {
		return err
	}
	return s.kv.Delete(ctx, notifiedPrefix+identity)
}

// MarkAbandonmentSent flips the monotonic abandonment flag and persists. The
// flag is written before the event goes out; a crash between the two loses
// the event rather than duplicating it.
func (s *Store) MarkAbandonmentSent(ctx context.Context, rec *Record) error {
	rec.AbandonmentEventSent = true
	return s.Save(ctx, rec)
}

// notifiedMarker is the recovery-notification dedup document. Independent of
// the abandonment event flag so toggling notification settings does not
// replay already-sent events.
type notifiedMarker struct {
	Identity   string    `json:"identity"`
	NotifiedAt time.Time `json:"notified_at"`
}

// WasNotified reports whether a recovery notification already went out for
// identity.
func (s *Store) WasNotified(ctx context.Context, identity string) (bool, error) {
	var m notifiedMarker
	return s.kv.GetJSON(ctx, notifiedPrefix+identity, &m)
}

// MarkNotified records that a recovery notification went out for identity.
func (s *Store) MarkNotified(ctx context.Context, identity string) error {
	return s.kv.SetJSON(ctx, notifiedPrefix+identity, notifiedMarker{
		Identity:   identity,
		NotifiedAt: s.nowFunc().UTC(),
	})
}

// Evaluate compares snap against the stored record for identity, persists the
// resulting record state and returns the classification. Identical item list,
// total and item count mean NoChange: only the activity timestamp is
// refreshed and no event should be emitted, which keeps polling-style
// mutation signals from blowing up event volume.
func (s *Store) Evaluate(ctx context.Context, identity, userID, sessionID, email string, snap events.Snapshot) (Outcome, error) {
	now := s.nowFunc().UTC()
	prior, err := s.Get(ctx, identity)
	if err != nil {
		return NoChange, err
	}

	if prior == nil {
		if snap.IsEmpty() {
			// nothing tracked, nothing to track
			return NoChange, nil
		}
		rec := &Record{
			Identity:     identity,
			UserID:       userID,
			SessionID:    sessionID,
			Email:        email,
			LastActivity: now,
			Snapshot:     snap,
			ContentHash:  snap.ContentHash(),
		}
		if err := s.Save(ctx, rec); err != nil {
			return NoChange, err
		}
		return BecameNew, nil
	}

	if snap.IsEmpty() {
		if err := s.Remove(ctx, identity); err != nil {
			return NoChange, err
		}
		return BecameEmpty, nil
	}

	hash := snap.ContentHash()
	if hash == prior.ContentHash && snap.Total == prior.Snapshot.Total && snap.ItemCount == prior.Snapshot.ItemCount {
		prior.LastActivity = now
		if email != "" {
			prior.Email = email
		}
		if err := s.Save(ctx, prior); err != nil {
			return NoChange, err
		}
		return NoChange, nil
	}

	prior.UserID = userID
	prior.SessionID = sessionID
	if email != "" {
		prior.Email = email
	}
	prior.LastActivity = now
	prior.Snapshot = snap
	prior.ContentHash = hash
	if err := s.Save(ctx, prior); err != nil {
		return NoChange, err
	}
	return ContentChanged, nil
}
