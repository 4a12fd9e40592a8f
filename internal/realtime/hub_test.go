package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/logging"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(logging.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return &ev
}

func feedDecision(txnID string, outcome decision.Outcome, score float64) *decision.Decision {
	return &decision.Decision{
		TransactionID: txnID,
		UserID:        "user-1",
		Outcome:       outcome,
		RiskScore:     score,
		RuleVersion:   "v1",
		DecidedAt:     time.Now().UTC(),
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"].(int) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastsToAllClientsByDefault(t *testing.T) {
	hub, url := newTestHub(t)
	c1 := dial(t, url)
	c2 := dial(t, url)
	waitForClients(t, hub, 2)

	hub.BroadcastDecision(feedDecision("txn-1", decision.OutcomeApprove, 12.5))

	for _, conn := range []*websocket.Conn{c1, c2} {
		ev := readEvent(t, conn)
		assert.Equal(t, "decision", ev.Type)
		require.NotNil(t, ev.Decision)
		assert.Equal(t, "txn-1", ev.Decision.TransactionID)
	}
}

func TestHubOutcomeFilter(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	sub, err := json.Marshal(Subscription{Outcomes: []decision.Outcome{decision.OutcomeReject}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))

	// The subscription update is applied by readPump; give it a beat.
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastDecision(feedDecision("txn-approved", decision.OutcomeApprove, 5))
	hub.BroadcastDecision(feedDecision("txn-rejected", decision.OutcomeReject, 95))

	ev := readEvent(t, conn)
	assert.Equal(t, "txn-rejected", ev.Decision.TransactionID)
}

func TestHubMinRiskScoreFilter(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	sub, err := json.Marshal(Subscription{MinRiskScore: 50})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastDecision(feedDecision("txn-low", decision.OutcomeApprove, 10))
	hub.BroadcastDecision(feedDecision("txn-high", decision.OutcomeReview, 62.5))

	ev := readEvent(t, conn)
	assert.Equal(t, "txn-high", ev.Decision.TransactionID)
}

func TestSubscriptionMatches(t *testing.T) {
	d := feedDecision("txn-1", decision.OutcomeReview, 55)

	assert.True(t, Subscription{}.matches(d))
	assert.True(t, Subscription{Outcomes: []decision.Outcome{decision.OutcomeReview}}.matches(d))
	assert.False(t, Subscription{Outcomes: []decision.Outcome{decision.OutcomeReject}}.matches(d))
	assert.True(t, Subscription{MinRiskScore: 55}.matches(d))
	assert.False(t, Subscription{MinRiskScore: 55.1}.matches(d))
	assert.True(t, Subscription{Users: []string{"user-1"}}.matches(d))
	assert.False(t, Subscription{Users: []string{"user-2"}}.matches(d))
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(logging.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitForClients(t, hub, 1)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
