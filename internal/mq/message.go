package mq

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReservedPrefix marks body keys that carry routing metadata. Keys with
// this prefix are lifted into the envelope properties and stripped from
// the published payload.
const ReservedPrefix = "msg"

// Platform identity used when the platform itself produces messages.
const (
	PlatformUserID     = "simwatch"
	PlatformProducerID = "simwatch"
)

// ErrIncorrelateable flags a message whose correlation identifier does
// not parse as a UID. Such messages are dropped before reaching any
// pipeline.
var ErrIncorrelateable = errors.New("message cannot be correlated to a simulation")

// Headers carry cross-entity linkage and provenance alongside the
// routing properties.
type Headers struct {
	TimestampISO   string
	TimestampRaw   string
	CorrelationID1 string // simulation UID
	CorrelationID2 string // job UID, optional
	EmailUID       string
}

// Props hold the routing metadata of a message.
type Props struct {
	UserID          string
	ProducerID      string
	ProducerVersion string
	MessageID       string
	Type            Code
	Timestamp       time.Time
	Headers         Headers
}

// Envelope is the canonical representation of an inbound or outbound
// event: routing metadata plus the decoded body.
type Envelope struct {
	Props   Props
	Content map[string]any
}

// New returns an envelope produced by the platform itself, with a
// fresh message UID and the current instant as send time.
func New(t Code, content map[string]any) *Envelope {
	now := time.Now().UTC()
	return &Envelope{
		Props: Props{
			UserID:          PlatformUserID,
			ProducerID:      PlatformProducerID,
			ProducerVersion: Version,
			MessageID:       uuid.NewString(),
			Type:            t,
			Timestamp:       now,
			Headers: Headers{
				TimestampISO: now.Format(time.RFC3339Nano),
			},
		},
		Content: content,
	}
}

// Validate checks the envelope's routing invariants. A non-empty
// primary correlation identifier must parse as a UID.
func (e *Envelope) Validate() error {
	if e.Props.MessageID == "" {
		return fmt.Errorf("message uid is missing")
	}
	if e.Props.Type == "" {
		return fmt.Errorf("message type code is missing")
	}
	if c := e.Props.Headers.CorrelationID1; c != "" {
		if _, err := uuid.Parse(c); err != nil {
			return fmt.Errorf("%w: %q", ErrIncorrelateable, c)
		}
	}
	return nil
}

// String returns the string value stored under key, or "" when the key
// is absent or holds a non-string.
func (e *Envelope) String(key string) string {
	s, _ := e.Content[key].(string)
	return s
}

// Int64 returns the numeric value stored under key. JSON decoding
// yields float64 for numbers; producers occasionally send numerics as
// strings, so both forms are accepted.
func (e *Envelope) Int64(key string) (int64, bool) {
	switch v := e.Content[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Has reports whether the body carries the given key.
func (e *Envelope) Has(key string) bool {
	_, ok := e.Content[key]
	return ok
}

// Payload returns the body with all reserved-prefix keys stripped, as
// required by the wire contract.
func Payload(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for k, v := range content {
		if len(k) >= len(ReservedPrefix) && k[:len(ReservedPrefix)] == ReservedPrefix {
			continue
		}
		out[k] = v
	}
	return out
}

// ParseTimestamp normalizes a producer timestamp. Producers emit
// RFC3339 instants with up to nanosecond precision; the raw form is
// preserved in the headers.
func ParseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
