package activity

import (
	"log"

	"github.com/google/uuid"
)

// ResolveIdentity picks the key a tracked cart is recorded under. The
// authenticated user id wins over the session id; the same preference must
// hold on every write path or abandonment and recovery break. A generated
// fallback is a data-quality signal worth logging.
func ResolveIdentity(userID, sessionID string) string {
	if userID != "" {
		return "user:" + userID
	}
	if sessionID != "" {
		return "session:" + sessionID
	}
	id := "anon:" + uuid.NewString()
	log.Printf("[activity] no user or session id on mutation signal, generated fallback identity %s", id)
	return id
}
