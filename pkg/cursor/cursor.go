// Package cursor tracks the position of a keyed scan over a model
package cursor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

//go:generate go tool stringer -type=State -trimprefix=State

// State is the position of a cursor in its lifecycle
type State int

// Cursor states
const (
	// StateFresh has no last values; the next read starts at the beginning
	StateFresh State = iota
	// StatePaging has emitted at least one page
	StatePaging
	// StateExhausted has seen a short page; nothing is left to read
	StateExhausted
)

// ErrKeyMismatch is returned when values do not match the cursor's key properties
var ErrKeyMismatch = errors.New("key values do not match key properties")

// Cursor is a resumable position within a scan ordered by Keys
type Cursor struct {
	Model      string   `json:"model"`
	Keys       []string `json:"keys"`
	LastValues []any    `json:"last_values,omitempty"`
	Size       int      `json:"size"`

	state State
}

// New creates a fresh cursor
func New(model string, keys []string, size int) *Cursor {
	return &Cursor{Model: model, Keys: keys, Size: size}
}

// State returns the current state
func (c *Cursor) State() State {
	return c.state
}

// Done reports whether the scan is exhausted
func (c *Cursor) Done() bool {
	return c.state == StateExhausted
}

// After returns the values the next page must start strictly after, nil when fresh
func (c *Cursor) After() []any {
	if c.state == StateFresh {
		return nil
	}

	return c.LastValues
}

// Advance records a page of k rows whose last row has key values last. A page
// shorter than Size exhausts the cursor.
func (c *Cursor) Advance(last []any, k int) error {
	if k > 0 {
		if len(last) != len(c.Keys) {
			return fmt.Errorf("%w: %d values for %d keys", ErrKeyMismatch, len(last), len(c.Keys))
		}

		c.LastValues = append([]any(nil), last...)
	}

	switch {
	case c.Size <= 0 || k < c.Size:
		c.state = StateExhausted
	case len(c.LastValues) > 0:
		c.state = StatePaging
	}

	return nil
}

// Reset returns the cursor to fresh so the next scan starts from the beginning
func (c *Cursor) Reset() {
	c.LastValues = nil
	c.state = StateFresh
}

// Resume continues a scan after a previous run. An exhausted cursor becomes
// paging again so rows added since are read.
func (c *Cursor) Resume() {
	if len(c.LastValues) > 0 {
		c.state = StatePaging
		return
	}

	c.state = StateFresh
}

// Compatible reports whether a stored cursor can continue a scan over keys
func (c *Cursor) Compatible(model string, keys []string) bool {
	if c.Model != model || len(c.Keys) != len(keys) {
		return false
	}

	for i := range keys {
		if c.Keys[i] != keys[i] {
			return false
		}
	}

	return true
}

type wire struct {
	Model      string   `json:"model"`
	Keys       []string `json:"keys"`
	LastValues []any    `json:"last_values,omitempty"`
	Size       int      `json:"size"`
	State      string   `json:"state"`
}

// MarshalJSON includes the state so a stored cursor rehydrates exactly
func (c *Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{
		Model:      c.Model,
		Keys:       c.Keys,
		LastValues: c.LastValues,
		Size:       c.Size,
		State:      c.state.String(),
	})
}

// UnmarshalJSON restores a cursor written by MarshalJSON
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var w wire

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&w); err != nil {
		return err
	}

	c.Model = w.Model
	c.Keys = w.Keys
	c.LastValues = normalize(w.LastValues)
	c.Size = w.Size

	switch w.State {
	case StatePaging.String():
		c.state = StatePaging
	case StateExhausted.String():
		c.state = StateExhausted
	default:
		c.state = StateFresh
	}

	return nil
}

func normalize(values []any) []any {
	for i, v := range values {
		if n, ok := v.(json.Number); ok {
			if iv, err := n.Int64(); err == nil {
				values[i] = iv
			} else if fv, err := n.Float64(); err == nil {
				values[i] = fv
			}
		}
	}

	return values
}
