package env

import "github.com/google/uuid"

// Clock numbers the transient records of a session. Numbers are strictly
// increasing and never reused. Like the session, a Clock is used from one
// goroutine at a time.
type Clock struct {
	seq int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next number.
func (c *Clock) Next() int64 {
	c.seq++
	return c.seq
}

// Current returns the last number handed out.
func (c *Clock) Current() int64 {
	return c.seq
}

// IDGenerator generates session ids.
// Implemented by UUIDv7Generator; tests use testutil.FixedSessionGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
