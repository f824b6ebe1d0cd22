// Package feed manages the websocket connection to the push service.
package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"alert-relay/internal/logging"
	"alert-relay/internal/metrics"
	"alert-relay/internal/models"
)

// State is the connection state of a Session.
type State int

const (
	Closed State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	// HardCloseDelay bounds how long a graceful close may wait for the peer.
	HardCloseDelay = 5 * time.Second
	dialTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Handler receives decoded feed traffic.
type Handler interface {
	Handle(ctx context.Context, ev models.AlertEvent) error
	Heartbeat(now time.Time) int
	SetTracking(tracking bool)
}

// Frame is one read result from the connection. Err is set when the read failed.
type Frame struct {
	Data []byte
	Err  error
}

// Session is one logical feed connection. It is driven from a single goroutine;
// only the reader runs alongside it and talks back through Frames.
type Session struct {
	url     string
	world   int
	dialer  *websocket.Dialer
	handler Handler
	base    *logging.Logger
	logger  *logging.Logger
	now     func() time.Time

	hardCloseDelay time.Duration

	state     State
	id        string
	conn      *websocket.Conn
	frames    chan Frame
	done      chan struct{}
	hardClose *time.Timer
}

// NewSession prepares a closed session for the given world.
func NewSession(url string, world int, rejectUnauthorized bool, handler Handler, logger *logging.Logger) *Session {
	return &Session{
		url:   url,
		world: world,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: !rejectUnauthorized},
		},
		handler:        handler,
		base:           logger,
		logger:         logger,
		now:            time.Now,
		hardCloseDelay: HardCloseDelay,
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	return s.state
}

// SetClock replaces the time source passed to heartbeats.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// ID is the identifier of the current connection, empty when none was opened yet.
func (s *Session) ID() string {
	return s.id
}

// Frames yields reads of the current connection. It is nil while closed,
// which blocks forever in a select.
func (s *Session) Frames() <-chan Frame {
	if s.state == Closed {
		return nil
	}
	return s.frames
}

// Open dials the feed and subscribes to metagame events. Opening an open or
// connecting session does nothing.
func (s *Session) Open(ctx context.Context) error {
	switch s.state {
	case Open, Connecting:
		s.logger.Debugf("Open ignored, session is %s", s.state)
		return nil
	case Closing:
		s.teardown()
	}

	s.state = Connecting
	s.logger = s.base
	s.logger.Infof("Connecting to feed %s", s.url)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := s.dialer.DialContext(dctx, s.url, nil)
	if err != nil {
		s.state = Closed
		return fmt.Errorf("failed to connect to feed: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(models.NewMetagameSubscription(strconv.Itoa(s.world))); err != nil {
		conn.Close()
		s.state = Closed
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.id = uuid.NewString()
	s.logger = s.base.WithField("session_id", s.id)
	s.conn = conn
	s.frames = make(chan Frame, 64)
	s.done = make(chan struct{})
	go s.read(conn, s.frames, s.done)

	s.state = Open
	s.handler.SetTracking(true)
	s.logger.Infof("Connection established, subscribed to world %d", s.world)
	return nil
}

func (s *Session) read(conn *websocket.Conn, frames chan<- Frame, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case frames <- Frame{Data: data, Err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Dispatch decodes one inbound message and forwards it to the handler.
func (s *Session) Dispatch(ctx context.Context, data []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.FeedMessages.WithLabelValues("invalid").Inc()
		s.logger.Warnf("Unmarshal message failed: %v", err)
		return fmt.Errorf("invalid feed message: %w", err)
	}

	switch env.Type {
	case models.KindServiceMessage:
		metrics.FeedMessages.WithLabelValues(env.Type).Inc()
		var payload models.AlertPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.logger.Warnf("Unmarshal payload failed: %v", err)
			return fmt.Errorf("invalid event payload: %w", err)
		}
		if payload.EventName != "" && payload.EventName != "MetagameEvent" {
			s.logger.Debugf("Ignored event %s", payload.EventName)
			return nil
		}
		ev, err := payload.Parse()
		if err != nil {
			s.logger.Warnf("Invalid metagame event: %v", err)
			return fmt.Errorf("invalid metagame event: %w", err)
		}
		return s.handler.Handle(ctx, ev)
	case models.KindHeartbeat:
		metrics.FeedMessages.WithLabelValues(env.Type).Inc()
		if n := s.handler.Heartbeat(s.now()); n > 0 {
			s.logger.Infof("Heartbeat cleared %d stale alert(s)", n)
		}
	case models.KindServiceStateChanged:
		metrics.FeedMessages.WithLabelValues(env.Type).Inc()
		s.logger.Debugf("Service state changed: %s", env.Payload)
	default:
		metrics.FeedMessages.WithLabelValues("other").Inc()
		s.logger.Debugf("Received: %s", data)
	}
	return nil
}

// Close stops tracking and starts a graceful close. The connection is
// terminated after HardCloseDelay if the peer does not answer.
func (s *Session) Close() {
	s.handler.SetTracking(false)
	if s.state != Open {
		return
	}
	s.state = Closing
	s.logger.Info("Closing connection")

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
		s.logger.Warnf("Close frame failed: %v", err)
		s.conn.Close()
		return
	}
	conn := s.conn
	s.hardClose = time.AfterFunc(s.hardCloseDelay, func() { conn.Close() })
}

// HandleReadError consumes a failed read. While closing it completes the
// close and returns nil; otherwise the session fails and the transport error
// is returned.
func (s *Session) HandleReadError(err error) error {
	if s.state == Closing {
		s.teardown()
		s.logger.Info("Connection Closed")
		return nil
	}
	if s.state == Closed {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = errors.New("feed closed the connection")
	}
	s.Fail(err)
	return err
}

// Fail abandons the connection after a transport error.
func (s *Session) Fail(err error) {
	s.handler.SetTracking(false)
	if s.state == Closed {
		return
	}
	s.logger.Errorf("Connection Error: %v", err)
	s.teardown()
}

// Terminate drops the connection immediately, sending a close frame if possible.
func (s *Session) Terminate() {
	s.handler.SetTracking(false)
	if s.state == Closed {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.teardown()
}

func (s *Session) teardown() {
	if s.hardClose != nil {
		s.hardClose.Stop()
		s.hardClose = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.state = Closed
}
