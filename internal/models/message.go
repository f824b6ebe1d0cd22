package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a 24-bit RGB value.
type Color uint32

// ParseColor reads "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color(v), nil
}

// MustColor is ParseColor for static tables.
func MustColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

// RGB splits the color into its components.
func (c Color) RGB() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

func (c Color) String() string {
	return fmt.Sprintf("#%06X", uint32(c))
}

// Field is one name/value line of an Embed.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Embed is the structured content of an outward alert message.
type Embed struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
	Color  Color   `json:"color"`
}

// Field returns the value of the named field.
func (e Embed) Field(name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MessageHandle identifies a message previously sent by a Messenger.
type MessageHandle struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Presence is the visible status of the relay.
type Presence string

const (
	PresenceIdle     Presence = "idle"
	PresenceChecking Presence = "checking"
	PresenceError    Presence = "error"
)

// Text returns the human readable status line for p.
func (p Presence) Text() string {
	switch p {
	case PresenceChecking:
		return "Checking... 👀"
	case PresenceError:
		return "Error: API unavailable"
	default:
		return "Sleeping 💤"
	}
}
