package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentHash returns a stable hash over the snapshot's items, total and
// count. Item order does not affect the hash.
func (s Snapshot) ContentHash() string {
	lines := make([]string, 0, len(s.Items)+1)
	for _, it := range s.Items {
		lines = append(lines, fmt.Sprintf("%s|%d|%.2f", it.SKU, it.Quantity, it.Price))
	}
	sort.Strings(lines)
	lines = append(lines, fmt.Sprintf("total=%.2f|count=%d|cur=%s", s.Total, s.ItemCount, s.Currency))
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// NewPayload builds an outbound event payload from a snapshot.
func NewPayload(eventType, identity, userID, sessionID string, snap Snapshot, now time.Time) Payload {
	return Payload{
		EventID:     uuid.NewString(),
		Type:        eventType,
		UserID:      userID,
		SessionID:   sessionID,
		Identity:    identity,
		Items:       snap.Items,
		Total:       snap.Total,
		Currency:    snap.Currency,
		ItemCount:   snap.ItemCount,
		ContentHash: snap.ContentHash(),
		Timestamp:   now.UTC(),
	}
}
