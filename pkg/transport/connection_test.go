package transport_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sreejagatab/jagatab-realtime/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// dialTestSocket gives the test a live client-side websocket whose peer
// accepts the handshake and then goes silent.
func dialTestSocket(t *testing.T) *websocket.Conn {
	t.Helper()
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		<-hold
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(hold) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return ws
}

func TestSendTimeoutClosesSlowConnection(t *testing.T) {
	ws := dialTestSocket(t)

	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, ws, transport.ConnectionConfig{
		ReadTimeout: time.Second,
		SendBuffer:  1,
		SendTimeout: 20 * time.Millisecond,
	}, newTestLogger())
	// the pumps are never started, so the outbound queue cannot drain —
	// the same shape as a peer that stays alive but stops reading

	conn.Send([]byte("first")) // fills the queue

	returned := make(chan struct{})
	go func() {
		conn.Send([]byte("second"))
		close(returned)
	}()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection survived a stalled reliable send")
	}
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after the timeout")
	}
	wg.Wait()
}

func TestTrySendShedsWhenSaturated(t *testing.T) {
	ws := dialTestSocket(t)

	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, ws, transport.ConnectionConfig{
		ReadTimeout: time.Second,
		SendBuffer:  1,
		SendTimeout: time.Second,
	}, newTestLogger())

	if !conn.TrySend([]byte("first")) {
		t.Fatal("TrySend failed with a free queue slot")
	}
	if conn.TrySend([]byte("second")) {
		t.Fatal("TrySend queued into a saturated queue")
	}

	conn.Close(nil)
	wg.Wait()
}
