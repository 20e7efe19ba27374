// Package envelope defines the request envelope carried by every hop of the
// suggestion pipeline and the helpers stages use to mutate it.
package envelope

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

// Suggestion is one ranked candidate. Link is filled in by curation when the
// metadata store knows the item.
type Suggestion struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
	Link  string  `json:"link,omitempty"`
}

// Envelope is the unit of work flowing through the pipeline. Fields are only
// ever added or extended; Room never changes once the gateway sets it.
type Envelope struct {
	Text       string `json:"text"`
	Site       string `json:"site"`
	Index      string `json:"index,omitempty"`
	Room       string `json:"room,omitempty"`
	SequenceID int64  `json:"sequence_id"`
	// Timestamps are seconds since the Unix epoch. A nil slice means the
	// client did not ask for timing and no hop stamps it.
	Timestamps  []float64    `json:"timestamps,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
	TotalHits   int          `json:"total_hits"`
}

// Parse decodes data without checking required fields.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// Decode parses a bus payload and validates it.
func Decode(data []byte) (*Envelope, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the fields every message read from a topic must carry.
func (e *Envelope) Validate() error {
	var missing []string
	if strings.TrimSpace(e.Text) == "" {
		missing = append(missing, "text")
	}
	if e.Room == "" {
		missing = append(missing, "room")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrMalformedEnvelope, strings.Join(missing, ", "))
	}
	return nil
}

// Encode serializes the envelope as UTF-8 JSON.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// Stamp appends t when the envelope carries timestamps. A clock behind the
// previous hop is clamped so the sequence never decreases.
func (e *Envelope) Stamp(t time.Time) {
	if e.Timestamps == nil {
		return
	}
	ts := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	if n := len(e.Timestamps); n > 0 && ts < e.Timestamps[n-1] {
		ts = e.Timestamps[n-1]
	}
	e.Timestamps = append(e.Timestamps, ts)
}

// Timed reports whether the envelope is collecting timestamps.
func (e *Envelope) Timed() bool {
	return e.Timestamps != nil
}

// Elapsed is last minus first timestamp, zero with fewer than two.
func (e *Envelope) Elapsed() time.Duration {
	n := len(e.Timestamps)
	if n < 2 {
		return 0
	}
	return seconds(e.Timestamps[n-1] - e.Timestamps[0])
}

// Hops returns the duration between each pair of consecutive timestamps.
func (e *Envelope) Hops() []time.Duration {
	if len(e.Timestamps) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(e.Timestamps)-1)
	for i := 1; i < len(e.Timestamps); i++ {
		out = append(out, seconds(e.Timestamps[i]-e.Timestamps[i-1]))
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// IDs lists suggestion identifiers in their current order.
func (e *Envelope) IDs() []string {
	ids := make([]string, 0, len(e.Suggestions))
	for _, s := range e.Suggestions {
		ids = append(ids, s.ID)
	}
	return ids
}

// Truncate shortens Text to at most n runes. Non-positive n is a no-op.
func (e *Envelope) Truncate(n int) {
	if n <= 0 || utf8.RuneCountInString(e.Text) <= n {
		return
	}
	runes := []rune(e.Text)
	e.Text = string(runes[:n])
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Timestamps != nil {
		c.Timestamps = append(make([]float64, 0, len(e.Timestamps)), e.Timestamps...)
	}
	if e.Suggestions != nil {
		c.Suggestions = append(make([]Suggestion, 0, len(e.Suggestions)), e.Suggestions...)
	}
	return &c
}
