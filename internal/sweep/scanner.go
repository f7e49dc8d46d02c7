package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/notify"
	"github.com/shoplytics/cartsync/internal/submit"
	"github.com/shoplytics/cartsync/internal/token"
)

// Defaults for the recurring sweep.
const (
	DefaultInterval  = 15 * time.Minute
	DefaultThreshold = time.Hour
)

// Config tunes a Scanner.
type Config struct {
	Threshold       time.Duration // inactivity age that makes a cart abandoned
	NotifyEnabled   bool
	RecoveryBaseURL string        // recovery link prefix, token appended as ?token=
	TokenTTL        time.Duration // capability token lifetime on recovery links
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 14 * 24 * time.Hour
	}
	return c
}

// Scanner is the periodic abandonment sweep over all activity records.
type Scanner struct {
	acts    *activity.Store
	sub     *submit.Submitter
	tokens  *token.Codec
	sender  notify.Sender
	rec     *metrics.Recorder
	cfg     Config
	nowFunc func() time.Time
}

// NewScanner wires a Scanner.
func NewScanner(acts *activity.Store, sub *submit.Submitter, tokens *token.Codec, sender notify.Sender, rec *metrics.Recorder, cfg Config) *Scanner {
	return &Scanner{
		acts:    acts,
		sub:     sub,
		tokens:  tokens,
		sender:  sender,
		rec:     rec,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

// Sweep walks every activity record and emits a terminal abandoned event at
// most once per cart lifetime. The flag is persisted before the event goes
// out: a crash in between loses the event instead of duplicating it, and a
// missed abandonment is tolerable where a double-billed one is not.
func (s *Scanner) Sweep(ctx context.Context) error {
	now := s.nowFunc().UTC()
	records, err := s.acts.List(ctx)
	if err != nil {
		return fmt.Errorf("list activity records: %w", err)
	}

	for i := range records {
		rec := records[i]
		if now.Sub(rec.LastActivity) <= s.cfg.Threshold {
			continue
		}

		if !rec.AbandonmentEventSent {
			if err := s.acts.MarkAbandonmentSent(ctx, &rec); err != nil {
				log.Printf("[sweep] flag abandonment for %s: %v", rec.Identity, err)
				continue
			}
			payload := events.NewPayload(events.TypeCartAbandoned, rec.Identity, rec.UserID, rec.SessionID, rec.Snapshot, now)
			if err := s.sub.SubmitEvent(ctx, payload); err != nil {
				// flag already set: the event is lost, not retried
				log.Printf("[sweep] abandoned event for %s lost: %v", rec.Identity, err)
			} else {
				s.rec.Count(ctx, metrics.MetricSweepAbandoned, 1, "")
			}
		}

		// Recovery notification is gated by its own marker, decoupled from
		// the event flag, so toggling notification settings never replays
		// already-sent abandonment events.
		if err := s.maybeNotify(ctx, &rec, now); err != nil {
			log.Printf("[sweep] recovery notification for %s: %v", rec.Identity, err)
		}
	}
	return nil
}

func (s *Scanner) maybeNotify(ctx context.Context, rec *activity.Record, now time.Time) error {
	if !s.cfg.NotifyEnabled || rec.Email == "" {
		return nil
	}
	notified, err := s.acts.WasNotified(ctx, rec.Identity)
	if err != nil || notified {
		return err
	}

	tok, err := s.tokens.Issue(rec.Identity, s.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("issue recovery token: %w", err)
	}
	link := fmt.Sprintf("%s?token=%s", s.cfg.RecoveryBaseURL, tok)
	body := fmt.Sprintf("You left %d item(s) in your cart. Pick up where you left off: %s", rec.Snapshot.ItemCount, link)

	// fire-and-forget: a failed send is logged by the caller and not retried
	if err := s.sender.Send(ctx, []string{rec.Email}, "You left something behind", body); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := s.acts.MarkNotified(ctx, rec.Identity); err != nil {
		return err
	}
	payload := events.NewPayload(events.TypeRecoveryEmailSent, rec.Identity, rec.UserID, rec.SessionID, rec.Snapshot, now)
	if err := s.sub.SubmitEvent(ctx, payload); err != nil {
		log.Printf("[sweep] recovery_email_sent event for %s lost: %v", rec.Identity, err)
	}
	return nil
}
