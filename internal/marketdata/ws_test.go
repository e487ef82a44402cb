package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickServer upgrades incoming connections and records every subscribe
// command it receives.
type tickServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	symbols []string
}

func (s *tickServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		if cmd.Type == "subscribe" {
			s.mu.Lock()
			s.symbols = append(s.symbols, cmd.Symbols...)
			s.mu.Unlock()
		}
	}
}

func (s *tickServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func startTickServer(t *testing.T) (*tickServer, string) {
	t.Helper()
	ts := &tickServer{}
	srv := httptest.NewServer(http.HandlerFunc(ts.handler))
	t.Cleanup(srv.Close)
	return ts, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientConcurrentWritersDoNotInterleave(t *testing.T) {
	ts, url := startTickServer(t)

	client := NewWSClient(url)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	// Subscribes race keep-alive pings on the same connection; the write
	// lock must keep every frame intact.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sym := fmt.Sprintf("NIFTY25MAR%d00PE", 240+i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Subscribe(context.Background(), []string{sym}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, client.writePing(client.conn))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(ts.received()) == 8
	}, 2*time.Second, 10*time.Millisecond, "every subscribe frame arrives whole")
}

func TestWSClientRestoresSubscriptionsOnReconnect(t *testing.T) {
	ts, url := startTickServer(t)

	client := NewWSClient(url)
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Subscribe(context.Background(), []string{"NIFTY", "NIFTY25MAR25000PE"}))

	// Duplicate subscriptions are skipped client-side.
	require.NoError(t, client.Subscribe(context.Background(), []string{"NIFTY"}))

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool {
		return len(ts.received()) == 4
	}, 2*time.Second, 10*time.Millisecond, "reconnect replays the full subscription set")
	assert.ElementsMatch(t,
		[]string{"NIFTY", "NIFTY25MAR25000PE", "NIFTY", "NIFTY25MAR25000PE"},
		ts.received())
}
