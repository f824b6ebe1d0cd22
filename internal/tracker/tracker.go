// Package tracker mirrors the lifecycle of in-flight alerts as chat messages.
//
// A Tracker is not safe for concurrent use; the relay loop owns it.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"alert-relay/internal/catalog"
	"alert-relay/internal/logging"
	"alert-relay/internal/metrics"
	"alert-relay/internal/models"
	"alert-relay/internal/schedule"
)

// Messenger is the chat platform as seen by the tracker.
type Messenger interface {
	Send(ctx context.Context, embed models.Embed) (models.MessageHandle, error)
	Edit(ctx context.Context, handle models.MessageHandle, embed models.Embed) error
	NotifyOperator(ctx context.Context, detail string) error
}

// TrackedAlert is an alert whose start message has been posted.
type TrackedAlert struct {
	InstanceID string
	Handle     models.MessageHandle
	Event      models.AlertEvent
}

// Options tune filtering and cleanup.
type Options struct {
	// ExcludedIDs are event type codes that are never posted. Nil means the catalog's special codes.
	ExcludedIDs []int
	// StaleGrace is how long after the window end tracked alerts may wait for their end event.
	StaleGrace time.Duration
	// DisplayZone is the time zone used for the timeframe field.
	DisplayZone *time.Location
}

// Tracker owns the instance id -> message mapping.
type Tracker struct {
	messenger   Messenger
	catalog     *catalog.Catalog
	window      schedule.Window
	logger      *logging.Logger
	excluded    map[int]struct{}
	staleGrace  time.Duration
	displayZone *time.Location

	alerts    map[string]*TrackedAlert
	tracking  bool
	onDrained func()
}

// New constructs a Tracker.
func New(messenger Messenger, cat *catalog.Catalog, window schedule.Window, logger *logging.Logger, opts Options) *Tracker {
	ids := opts.ExcludedIDs
	if ids == nil {
		ids = cat.SpecialIDs()
	}
	excluded := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	if opts.StaleGrace <= 0 {
		opts.StaleGrace = time.Hour + 35*time.Minute
	}
	if opts.DisplayZone == nil {
		opts.DisplayZone = time.UTC
	}
	return &Tracker{
		messenger:   messenger,
		catalog:     cat,
		window:      window,
		logger:      logger,
		excluded:    excluded,
		staleGrace:  opts.StaleGrace,
		displayZone: opts.DisplayZone,
		alerts:      make(map[string]*TrackedAlert),
	}
}

// OnDrained registers fn to run when the tracker is idle and holds no alerts,
// i.e. when the feed may be closed.
func (t *Tracker) OnDrained(fn func()) {
	t.onDrained = fn
}

// SetTracking flips the window-state flag.
func (t *Tracker) SetTracking(tracking bool) {
	t.tracking = tracking
	if tracking {
		metrics.Tracking.Set(1)
	} else {
		metrics.Tracking.Set(0)
	}
}

// Tracking reports whether new alerts are accepted.
func (t *Tracker) Tracking() bool {
	return t.tracking
}

// Len returns the number of in-flight alerts.
func (t *Tracker) Len() int {
	return len(t.alerts)
}

// IDs returns the tracked instance ids, sorted.
func (t *Tracker) IDs() []string {
	ids := make([]string, 0, len(t.alerts))
	for id := range t.alerts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a copy of the tracked alert for id.
func (t *Tracker) Get(id string) (TrackedAlert, bool) {
	a, ok := t.alerts[id]
	if !ok {
		return TrackedAlert{}, false
	}
	return *a, true
}

// Handle applies one alert event. A non-nil error means a start message could not be posted.
func (t *Tracker) Handle(ctx context.Context, ev models.AlertEvent) error {
	logger := t.logger.WithField("instance_id", ev.InstanceID)

	if _, ok := t.excluded[ev.EventTypeID]; ok {
		logger.Infof("Ignored: excluded event type %d (%s)", ev.EventTypeID, ev.State)
		metrics.AlertEvents.WithLabelValues("excluded").Inc()
		return nil
	}

	switch ev.State {
	case models.Started:
		return t.start(ctx, logger, ev)
	case models.Ended:
		t.end(ctx, logger, ev)
		return nil
	default:
		logger.Warnf("Ignored: unknown state %q", ev.State)
		return nil
	}
}

func (t *Tracker) start(ctx context.Context, logger *logging.Logger, ev models.AlertEvent) error {
	if !t.tracking {
		logger.Infof("Ignored: alert started outside the tracking window")
		metrics.AlertEvents.WithLabelValues("outside_window").Inc()
		return nil
	}
	if _, ok := t.alerts[ev.InstanceID]; ok {
		logger.Infof("Ignored: duplicate start")
		metrics.AlertEvents.WithLabelValues("duplicate").Inc()
		return nil
	}

	handle, err := t.messenger.Send(ctx, t.Render(ev))
	if err != nil {
		metrics.AlertEvents.WithLabelValues("send_failed").Inc()
		logger.Errorf("Failed to post alert (type %d, zone %d): %v", ev.EventTypeID, ev.ZoneID, err)
		detail := fmt.Sprintf("Failed to post alert %s (type %d, zone %d)\n%+v", ev.InstanceID, ev.EventTypeID, ev.ZoneID, err)
		if nerr := t.messenger.NotifyOperator(ctx, detail); nerr != nil {
			logger.Errorf("Failed to notify operator: %v", nerr)
		}
		return fmt.Errorf("failed to post alert %s: %w", ev.InstanceID, err)
	}

	t.alerts[ev.InstanceID] = &TrackedAlert{InstanceID: ev.InstanceID, Handle: handle, Event: ev}
	metrics.AlertEvents.WithLabelValues("posted").Inc()
	metrics.TrackedAlerts.Set(float64(len(t.alerts)))
	logger.Infof("New alert: %s on zone %d", t.catalog.AlertName(ev.EventTypeID), ev.ZoneID)
	return nil
}

func (t *Tracker) end(ctx context.Context, logger *logging.Logger, ev models.AlertEvent) {
	tracked, ok := t.alerts[ev.InstanceID]
	if !ok {
		logger.Infof("Ignored: alert ended, unknown id")
		metrics.AlertEvents.WithLabelValues("unknown").Inc()
		return
	}
	tracked.Event = ev

	if err := t.messenger.Edit(ctx, tracked.Handle, t.Render(ev)); err != nil {
		// The posted message may have been deleted; the entry goes either way.
		logger.Warnf("Failed to edit alert message %s: %v", tracked.Handle.MessageID, err)
		metrics.AlertEvents.WithLabelValues("edit_failed").Inc()
	} else {
		winner := catalog.Factions[models.Winner(ev.Scores)]
		logger.Infof("Alert ended: %s won", winner.Name)
		metrics.AlertEvents.WithLabelValues("closed").Inc()
	}

	delete(t.alerts, ev.InstanceID)
	metrics.TrackedAlerts.Set(float64(len(t.alerts)))
	t.checkDrained()
}

// Heartbeat is the feed liveness signal. It prunes alerts stuck past the grace period.
func (t *Tracker) Heartbeat(now time.Time) int {
	return t.PruneStale(now)
}

// PruneStale clears every tracked alert when the window is over and the grace
// period since its end has elapsed. It returns the number of alerts cleared.
func (t *Tracker) PruneStale(now time.Time) int {
	if t.tracking || len(t.alerts) == 0 {
		return 0
	}
	lastEnd := t.window.LastEnd(now)
	if now.Sub(lastEnd) < t.staleGrace {
		return 0
	}

	n := len(t.alerts)
	t.logger.Warnf("Clearing %d stale alert(s) without end event: %v", n, t.IDs())
	t.alerts = make(map[string]*TrackedAlert)
	metrics.AlertEvents.WithLabelValues("stale").Add(float64(n))
	metrics.TrackedAlerts.Set(0)
	t.checkDrained()
	return n
}

func (t *Tracker) checkDrained() {
	if !t.tracking && len(t.alerts) == 0 && t.onDrained != nil {
		t.onDrained()
	}
}
