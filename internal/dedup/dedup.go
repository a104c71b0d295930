package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
)

// Guard performs atomic check-and-mark for inbound provider callbacks so a
// redelivered callback is processed at most once per suppression window.
type Guard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
}

// Fingerprint identifies an outbound notification by its delivery-relevant
// fields. Two requests with the same fingerprint inside the suppression
// window are duplicates regardless of metadata or priority.
func Fingerprint(channel domain.Channel, recipient, content, subject string) string {
	h := sha256.New()
	h.Write([]byte(string(channel)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(recipient)))
	h.Write([]byte{'|'})
	h.Write([]byte(content))
	h.Write([]byte{'|'})
	h.Write([]byte(subject))
	return hex.EncodeToString(h.Sum(nil))
}

// InboundKey derives the dedup key for a provider callback. The event
// timestamp is truncated to the minute so a provider resending the same
// event with a slightly different timestamp still collapses to one key.
func InboundKey(source, externalID, event string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(source))))
	h.Write([]byte{'|'})
	h.Write([]byte(externalID))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(event))))
	h.Write([]byte{'|'})
	h.Write([]byte(at.UTC().Truncate(time.Minute).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}
