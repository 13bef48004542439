// Package analytics buffers storefront events and ships them in batches.
package analytics

import (
	"errors"
	"strings"
	"time"
)

const (
	MaxNameLength      = 64
	MaxEventsPerSubmit = 50
)

var (
	ErrNameRequired = errors.New("event name is required")
	ErrNameTooLong  = errors.New("event name is too long")
)

type Event struct {
	Name       string         `json:"name"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Path       string         `json:"path,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Normalize trims the name, validates it and stamps a missing timestamp with now.
func (e *Event) Normalize(now time.Time) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return ErrNameRequired
	}
	if len(e.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	return nil
}
