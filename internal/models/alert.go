package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventState is the lifecycle state carried by a metagame event.
type EventState string

const (
	Started EventState = "started"
	Ended   EventState = "ended"
)

// ErrUnknownState is returned when a payload carries a state other than started or ended.
var ErrUnknownState = errors.New("unknown metagame event state")

// Faction indexes into AlertEvent.Scores.
const (
	VS = iota
	NC
	TR
)

// AlertEvent is one parsed metagame event. It is never mutated after parsing.
type AlertEvent struct {
	EventTypeID int
	State       EventState
	InstanceID  string
	ZoneID      int
	WorldID     int
	Scores      [3]float64 // VS, NC, TR; zero on started events
	Timestamp   int64      // epoch seconds
}

// Time returns the event timestamp as a time.Time.
func (e AlertEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// AlertPayload is the wire form of a MetagameEvent; every field arrives as a string.
type AlertPayload struct {
	EventName              string `json:"event_name"`
	ExperienceBonus        string `json:"experience_bonus"`
	FactionNC              string `json:"faction_nc"`
	FactionTR              string `json:"faction_tr"`
	FactionVS              string `json:"faction_vs"`
	InstanceID             string `json:"instance_id"`
	MetagameEventID        string `json:"metagame_event_id"`
	MetagameEventState     string `json:"metagame_event_state"`
	MetagameEventStateName string `json:"metagame_event_state_name"`
	Timestamp              string `json:"timestamp"`
	WorldID                string `json:"world_id"`
	ZoneID                 string `json:"zone_id"`
}

// Parse converts the payload into an AlertEvent.
func (p AlertPayload) Parse() (AlertEvent, error) {
	var ev AlertEvent
	var err error

	if p.InstanceID == "" {
		return AlertEvent{}, errors.New("missing instance_id")
	}
	ev.InstanceID = p.InstanceID

	switch EventState(p.MetagameEventStateName) {
	case Started, Ended:
		ev.State = EventState(p.MetagameEventStateName)
	default:
		return AlertEvent{}, fmt.Errorf("%w: %q", ErrUnknownState, p.MetagameEventStateName)
	}

	if ev.EventTypeID, err = parseInt("metagame_event_id", p.MetagameEventID); err != nil {
		return AlertEvent{}, err
	}
	if ev.ZoneID, err = parseInt("zone_id", p.ZoneID); err != nil {
		return AlertEvent{}, err
	}
	if p.WorldID != "" {
		if ev.WorldID, err = parseInt("world_id", p.WorldID); err != nil {
			return AlertEvent{}, err
		}
	}
	if ev.Timestamp, err = strconv.ParseInt(strings.TrimSpace(p.Timestamp), 10, 64); err != nil {
		return AlertEvent{}, fmt.Errorf("invalid timestamp %q: %w", p.Timestamp, err)
	}

	for i, raw := range []string{p.FactionVS, p.FactionNC, p.FactionTR} {
		if ev.Scores[i], err = parseScore(raw); err != nil {
			return AlertEvent{}, err
		}
	}

	return ev, nil
}

func parseInt(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}

// parseScore accepts "", "35" and "35.000000"; negative scores are rejected.
func parseScore(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid faction score %q: %w", raw, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative faction score %q", raw)
	}
	return v, nil
}

// Winner returns the index of the highest score. Ties go to the lowest index (VS, then NC, then TR).
func Winner(scores [3]float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
