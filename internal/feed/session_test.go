package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-relay/internal/logging"
	"alert-relay/internal/models"
)

type fakeHandler struct {
	events     []models.AlertEvent
	heartbeats int
	tracking   bool
	err        error
}

func (f *fakeHandler) Handle(_ context.Context, ev models.AlertEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeHandler) Heartbeat(time.Time) int {
	f.heartbeats++
	return 0
}

func (f *fakeHandler) SetTracking(tracking bool) { f.tracking = tracking }

type feedServer struct {
	*httptest.Server
	url   string
	dials atomic.Int32
	subs  chan models.SubscribeRequest
}

// newFeedServer upgrades every request and runs serve on the connection after
// the subscribe request has been read.
func newFeedServer(t *testing.T, serve func(conn *websocket.Conn)) *feedServer {
	t.Helper()
	fs := &feedServer{subs: make(chan models.SubscribeRequest, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fs.dials.Add(1)

		var sub models.SubscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		fs.subs <- sub
		serve(conn)
	}))
	fs.url = "ws" + strings.TrimPrefix(fs.Server.URL, "http")
	t.Cleanup(fs.Close)
	return fs
}

// drain keeps reading so close frames are answered.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func nextFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case f := <-s.Frames():
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestOpenSubscribesToWorld(t *testing.T) {
	srv := newFeedServer(t, drain)
	h := &fakeHandler{}
	s := NewSession(srv.url, 13, true, h, logging.NewNop())

	require.NoError(t, s.Open(context.Background()))
	defer s.Terminate()

	sub := <-srv.subs
	assert.Equal(t, models.NewMetagameSubscription("13"), sub)
	assert.Equal(t, Open, s.State())
	assert.True(t, h.tracking)
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestOpenFailureLeavesSessionClosed(t *testing.T) {
	h := &fakeHandler{}
	s := NewSession("ws://127.0.0.1:1/streaming", 13, true, h, logging.NewNop())

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, Closed, s.State())
	assert.False(t, h.tracking)
	assert.Nil(t, s.Frames())
}

func TestFramesAreDeliveredAndDispatched(t *testing.T) {
	started := `{"payload":{"event_name":"MetagameEvent","faction_nc":"0.000000","faction_tr":"0.000000",
		"faction_vs":"0.000000","instance_id":"1001","metagame_event_id":"147","metagame_event_state":"135",
		"metagame_event_state_name":"started","timestamp":"1710093600","world_id":"13","zone_id":"2"},
		"service":"event","type":"serviceMessage"}`
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{
			`{"connected":"true","service":"push","type":"connectionStateChanged"}`,
			`{"online":{"EventServerEndpoint_Connery_1":"true"},"service":"event","type":"heartbeat"}`,
			started,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		drain(conn)
	})
	h := &fakeHandler{}
	s := NewSession(srv.url, 13, true, h, logging.NewNop())
	require.NoError(t, s.Open(context.Background()))
	defer s.Terminate()

	for i := 0; i < 3; i++ {
		f := nextFrame(t, s)
		require.NoError(t, f.Err)
		require.NoError(t, s.Dispatch(context.Background(), f.Data))
	}

	assert.Equal(t, 1, h.heartbeats)
	require.Len(t, h.events, 1)
	assert.Equal(t, "1001", h.events[0].InstanceID)
	assert.Equal(t, 147, h.events[0].EventTypeID)
	assert.Equal(t, models.Started, h.events[0].State)
}

func TestDispatchRejectsMalformedMessages(t *testing.T) {
	h := &fakeHandler{}
	s := NewSession("ws://unused", 13, true, h, logging.NewNop())
	ctx := context.Background()

	assert.Error(t, s.Dispatch(ctx, []byte(`not json`)))
	assert.Error(t, s.Dispatch(ctx, []byte(`{"type":"serviceMessage","payload":{"instance_id":"1","metagame_event_state_name":"paused"}}`)))
	assert.NoError(t, s.Dispatch(ctx, []byte(`{"type":"serviceMessage","payload":{"event_name":"PlayerLogin"}}`)))
	assert.NoError(t, s.Dispatch(ctx, []byte(`{"type":"serviceStateChanged","payload":{"online":"true"}}`)))
	assert.Empty(t, h.events)
}

func TestDispatchReturnsHandlerError(t *testing.T) {
	h := &fakeHandler{err: assert.AnError}
	s := NewSession("ws://unused", 13, true, h, logging.NewNop())
	payload, err := json.Marshal(models.Envelope{
		Type: models.KindServiceMessage,
		Payload: json.RawMessage(`{"instance_id":"7","metagame_event_id":"147","metagame_event_state_name":"started",
			"timestamp":"1710093600","zone_id":"2"}`),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Dispatch(context.Background(), payload), assert.AnError)
}

func TestGracefulClose(t *testing.T) {
	srv := newFeedServer(t, drain)
	h := &fakeHandler{}
	s := NewSession(srv.url, 13, true, h, logging.NewNop())
	require.NoError(t, s.Open(context.Background()))

	s.Close()
	assert.Equal(t, Closing, s.State())
	assert.False(t, h.tracking)

	f := nextFrame(t, s)
	require.Error(t, f.Err)
	assert.NoError(t, s.HandleReadError(f.Err))
	assert.Equal(t, Closed, s.State())
	assert.Nil(t, s.Frames())

	s.Close()
	assert.Equal(t, Closed, s.State())
}

func TestHardCloseWhenPeerIsSilent(t *testing.T) {
	release := make(chan struct{})
	srv := newFeedServer(t, func(*websocket.Conn) { <-release })
	t.Cleanup(func() { close(release) })

	h := &fakeHandler{}
	s := NewSession(srv.url, 13, true, h, logging.NewNop())
	s.hardCloseDelay = 50 * time.Millisecond
	require.NoError(t, s.Open(context.Background()))

	s.Close()
	f := nextFrame(t, s)
	require.Error(t, f.Err)
	assert.NoError(t, s.HandleReadError(f.Err))
	assert.Equal(t, Closed, s.State())
}

func TestTransportErrorFailsSession(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	h := &fakeHandler{}
	s := NewSession(srv.url, 13, true, h, logging.NewNop())
	require.NoError(t, s.Open(context.Background()))
	require.True(t, h.tracking)

	f := nextFrame(t, s)
	require.Error(t, f.Err)
	assert.Error(t, s.HandleReadError(f.Err))
	assert.Equal(t, Closed, s.State())
	assert.False(t, h.tracking)

	require.NoError(t, s.Open(context.Background()))
	defer s.Terminate()
	assert.Equal(t, Open, s.State())
	assert.Equal(t, int32(2), srv.dials.Load())
}
