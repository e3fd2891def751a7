package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openhire/interview-gateway/internal/bridge"
	"github.com/openhire/interview-gateway/internal/session"
)

type fakeRegistry struct {
	mu       sync.Mutex
	attached map[string]bridge.Transport
	err      error
	done     chan struct{}
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		attached: make(map[string]bridge.Transport),
		done:     make(chan struct{}),
	}
}

func (r *fakeRegistry) Attach(sessionID string, t bridge.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.attached[sessionID] = t
	return nil
}

func (r *fakeRegistry) Done(sessionID string) <-chan struct{} {
	return r.done
}

func (r *fakeRegistry) transport(sessionID string) bridge.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached[sessionID]
}

func newTestServer(reg SessionRegistry, maxConc int) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws/interview/{id}", NewHandler(HandlerConfig{Sessions: reg, MaxConcurrent: maxConc}))
	return httptest.NewServer(mux)
}

func wsURL(srv *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview/" + sessionID
}

func TestHandlerAttachesConnection(t *testing.T) {
	reg := newFakeRegistry()
	srv := newTestServer(reg, 4)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "sess-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return reg.transport("sess-1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	close(reg.done)
}

func TestHandlerRejectsWhenNoLiveBridge(t *testing.T) {
	reg := newFakeRegistry()
	reg.err = session.ErrNotActive
	srv := newTestServer(reg, 4)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "sess-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler closes the socket after the attach is refused.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestHandlerAtCapacity(t *testing.T) {
	reg := newFakeRegistry()
	srv := newTestServer(reg, 1)
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "sess-1"), nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool {
		return reg.transport("sess-1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "sess-2"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	close(reg.done)
}
