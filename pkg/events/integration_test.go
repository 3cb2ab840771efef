package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentimmune/control-plane/pkg/store/postgres"
)

// streamingTestEnv holds all wired-up components for an integration test
// against a real PostgreSQL database (testcontainers locally, a service
// container in CI).
type streamingTestEnv struct {
	store     *postgres.Store
	publisher *EventPublisher
	manager   *ConnectionManager
	listener  *NotifyListener
	server    *httptest.Server
	agentID   string
	channel   string // agent:<agentID>
}

func setupStreamingTest(t *testing.T) *streamingTestEnv {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("immune_events_test"),
		tcpostgres.WithUsername("immune_test"),
		tcpostgres.WithPassword("immune_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pgStore, err := postgres.NewClient(ctx, postgres.Config{
		Host: host, Port: port.Int(),
		User: "immune_test", Password: "immune_test", Database: "immune_events_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
		RunID:           "integration-run",
	})
	require.NoError(t, err)
	t.Cleanup(func() { pgStore.Close() })

	// NotifyListener needs its own dedicated connection (LISTEN/NOTIFY is
	// database-level, not routed through the pool) — the plain connection
	// string testcontainers hands back works directly for that.
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	agentID := "agent-integration-test"
	channel := AgentChannel(agentID)

	publisher := NewEventPublisher(pgStore.DB())
	catchupQuerier := NewStoreCatchupAdapter(pgStore)
	manager := NewConnectionManager(catchupQuerier, 5*time.Second)

	listener := NewNotifyListener(connStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)
	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })

	return &streamingTestEnv{
		store: pgStore, publisher: publisher, manager: manager, listener: listener,
		server: server, agentID: agentID, channel: channel,
	}
}

func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishAnomalyDetected(ctx, env.agentID, AnomalyDetectedPayload{
		Type: EventTypeAnomalyDetected, AgentID: env.agentID, MaxDeviation: 4.2,
		Timestamp: "2026-07-30T00:00:00Z",
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeAnomalyDetected, msg["type"])
	assert.Equal(t, env.agentID, msg["agent_id"])
	assert.Contains(t, msg, "db_event_id")
}

func TestIntegration_QuarantinedBroadcastsToFleetAndAgentChannels(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	agentConn := env.subscribeAndWait(t)

	fleetConn := env.connectWS(t)
	msg := readJSONTimeout(t, fleetConn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])
	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: FleetChannel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, fleetConn.Write(writeCtx, websocket.MessageText, subMsg))
	cancel()
	msg = readJSONTimeout(t, fleetConn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	err := env.publisher.PublishQuarantined(ctx, env.agentID, QuarantinedPayload{
		Type: EventTypeQuarantined, AgentID: env.agentID, Verdict: "agent_specific",
		Timestamp: "2026-07-30T00:00:00Z",
	})
	require.NoError(t, err)

	agentMsg := readJSONTimeout(t, agentConn, 5*time.Second)
	assert.Equal(t, EventTypeQuarantined, agentMsg["type"])

	fleetMsg := readJSONTimeout(t, fleetConn, 5*time.Second)
	assert.Equal(t, EventTypeQuarantined, fleetMsg["type"])
}

func TestIntegration_CatchupReplaysMissedEvents(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	// Publish before any client subscribes.
	require.NoError(t, env.publisher.PublishAnomalyDetected(ctx, env.agentID, AnomalyDetectedPayload{
		Type: EventTypeAnomalyDetected, AgentID: env.agentID, MaxDeviation: 3.1,
		Timestamp: "2026-07-30T00:00:00Z",
	}))
	require.NoError(t, env.publisher.PublishQuarantined(ctx, env.agentID, QuarantinedPayload{
		Type: EventTypeQuarantined, AgentID: env.agentID, Verdict: "fleet_wide",
		Timestamp: "2026-07-30T00:00:01Z",
	}))

	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))
	cancel()

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	first := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeAnomalyDetected, first["type"])

	second := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeQuarantined, second["type"])
}
