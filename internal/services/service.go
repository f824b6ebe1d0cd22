// Package services runs the relay loop: it owns the scheduler timer, the feed
// session and the alert tracker, and serializes every change to them.
package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"alert-relay/internal/catalog"
	"alert-relay/internal/config"
	"alert-relay/internal/feed"
	"alert-relay/internal/logging"
	"alert-relay/internal/metrics"
	"alert-relay/internal/models"
	"alert-relay/internal/schedule"
	"alert-relay/internal/tracker"
)

// Messenger is the chat platform as seen by the relay.
type Messenger interface {
	tracker.Messenger
	SetPresence(ctx context.Context, p models.Presence) error
}

// Status is a point-in-time view of the relay.
type Status struct {
	Window        string          `json:"window"`
	Session       string          `json:"session"`
	SessionID     string          `json:"session_id,omitempty"`
	Tracking      bool            `json:"tracking"`
	Presence      models.Presence `json:"presence"`
	TrackedAlerts []string        `json:"tracked_alerts"`
	NextCheck     time.Time       `json:"next_check"`
	LastError     string          `json:"last_error,omitempty"`
}

// Service is the relay orchestrator.
type Service struct {
	logger    *logging.Logger
	window    schedule.Window
	backoff   time.Duration
	session   *feed.Session
	tracker   *tracker.Tracker
	messenger Messenger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	timer     *time.Timer
	nextCheck time.Time
	presence  models.Presence
	lastError string
	status    atomic.Pointer[Status]
}

// New wires the tracker and feed session for cfg.
func New(cfg config.Config, cat *catalog.Catalog, messenger Messenger, logger *logging.Logger) (*Service, error) {
	window, err := cfg.TrackingWindow()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		logger:    logger,
		window:    window,
		backoff:   cfg.Feed.RetryBackoff,
		messenger: messenger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		timer:     time.NewTimer(0),
	}
	svc.tracker = tracker.New(messenger, cat, window, logger, tracker.Options{
		ExcludedIDs: cfg.Alerts.ExcludedIDs,
		StaleGrace:  cfg.Alerts.StaleGrace,
		DisplayZone: cfg.Alerts.DisplayZone,
	})
	svc.session = feed.NewSession(cfg.Feed.URL, cfg.Feed.World, cfg.Feed.RejectUnauthorized, svc.tracker, logger)
	svc.session.SetClock(func() time.Time { return svc.now() })
	svc.tracker.OnDrained(func() {
		svc.logger.Info("No alerts left outside the window, closing feed")
		svc.session.Close()
	})
	svc.publish()
	return svc, nil
}

// Start launches the relay loop.
func (s *Service) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run()
	}()
}

// Stop ends the relay loop and drops the feed connection.
func (s *Service) Stop() {
	s.cancel()
}

// Status returns the latest published snapshot. It is safe for concurrent use.
func (s *Service) Status() Status {
	return *s.status.Load()
}

func (s *Service) run() {
	s.logger.Infof("Relay started, tracking window %s", s.window)
	s.setPresence(models.PresenceIdle)
	defer s.timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.session.Terminate()
			s.logger.Info("Relay stopped")
			return
		case <-s.timer.C:
			s.tick()
		case f := <-s.session.Frames():
			s.handleFrame(f)
		}
		s.publish()
	}
}

// tick runs one scheduler evaluation and applies it.
func (s *Service) tick() {
	now := s.now()
	res := s.window.Evaluate(now, s.tracker.Tracking())
	s.logger.Debugf("Checking at %s: %s, next check in %s", now.Format(time.RFC3339), res.Decision, res.NextCheck)

	switch res.Decision {
	case schedule.EnterWindow:
		s.setPresence(models.PresenceChecking)
		if s.session.State() == feed.Open {
			s.tracker.SetTracking(true)
			break
		}
		if err := s.session.Open(s.ctx); err != nil {
			s.transportError(err)
			return
		}
		s.lastError = ""
	case schedule.ExitWindow:
		s.logger.Info("Tracking window ended")
		s.setPresence(models.PresenceIdle)
		s.tracker.SetTracking(false)
	}

	if !s.tracker.Tracking() {
		if s.tracker.Len() == 0 {
			s.session.Close()
		} else if s.session.State() == feed.Closed {
			s.tracker.PruneStale(now)
		}
	}
	s.resetTimer(res.NextCheck)
}

func (s *Service) handleFrame(f feed.Frame) {
	if f.Err != nil {
		if err := s.session.HandleReadError(f.Err); err != nil {
			s.transportError(err)
		}
		return
	}
	if err := s.session.Dispatch(s.ctx, f.Data); err != nil {
		s.logger.Errorf("Failed to handle feed message: %v", err)
	}
}

// transportError drops the session and retries after the backoff.
func (s *Service) transportError(err error) {
	metrics.FeedErrors.Inc()
	s.session.Fail(err)
	s.lastError = err.Error()
	s.logger.Errorf("Connection Error: %v, retrying in %s", err, s.backoff)
	s.setPresence(models.PresenceError)
	s.resetTimer(s.backoff)
}

func (s *Service) setPresence(p models.Presence) {
	if p == s.presence {
		return
	}
	s.presence = p
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if err := s.messenger.SetPresence(ctx, p); err != nil {
		s.logger.Warnf("Failed to set presence %s: %v", p, err)
	}
}

func (s *Service) resetTimer(d time.Duration) {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(d)
	s.nextCheck = s.now().Add(d)
}

func (s *Service) publish() {
	s.status.Store(&Status{
		Window:        s.window.String(),
		Session:       s.session.State().String(),
		SessionID:     s.session.ID(),
		Tracking:      s.tracker.Tracking(),
		Presence:      s.presence,
		TrackedAlerts: s.tracker.IDs(),
		NextCheck:     s.nextCheck,
		LastError:     s.lastError,
	})
}
