package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/mcdev12/planningpoker/go/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

type fakeJetStream struct {
	jetstream.JetStream
	published chan *nats.Msg
}

func (f *fakeJetStream) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	select {
	case f.published <- msg:
		return &jetstream.PubAck{Stream: "POKER_EVENTS"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type relayEnv struct {
	app   *session.App
	code  string
	owner string
	cm    *ConnectionManager
	relay *Relay
	js    *fakeJetStream
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	app := session.NewApp(store.NewMemoryStore(), clockwork.NewFakeClock(), session.DefaultConfig())
	t.Cleanup(app.Close)

	code, owner, err := app.CreateRoom(context.Background(), models.Task{Title: "Relay"})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	cm := NewConnectionManager(app, DefaultConnectionConfig())
	js := &fakeJetStream{published: make(chan *nats.Msg, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		app:               app,
		connectionManager: cm,
		js:                js,
		config:            DefaultRelayConfig(),
		instanceID:        "instance-a",
		ctx:               ctx,
		cancel:            cancel,
		watched:           make(map[string]*session.Subscription),
	}
	t.Cleanup(func() { r.Stop() })

	return &relayEnv{app: app, code: code, owner: owner, cm: cm, relay: r, js: js}
}

// connect registers a bare connection; sub marks it as fed locally.
func (e *relayEnv) connect(t *testing.T, id, playerID string, observer, local bool) *Connection {
	t.Helper()
	c := &Connection{
		ID:       id,
		PlayerID: playerID,
		RoomCode: e.code,
		Observer: observer,
		Send:     make(chan []byte, 8),
		Manager:  e.cm,
	}
	if local {
		sub, err := e.app.Subscribe(context.Background(), e.code)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		t.Cleanup(sub.Close)
		c.sub = sub
	}
	e.cm.registerConnection(c)
	return c
}

func (e *relayEnv) envelope(t *testing.T, origin string) []byte {
	t.Helper()
	env, err := events.NewEnvelope(e.code, events.EventTypeRoundReset, 4, time.Now().UTC(), events.RoundResetPayload{ResetBy: "bob"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	env.Origin = origin
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// drainBroadcasts hands queued relay broadcasts to the manager and reports
// how many there were.
func (e *relayEnv) drainBroadcasts() int {
	n := 0
	for {
		select {
		case msg := <-e.cm.broadcastCh:
			e.cm.handleBroadcast(msg)
			n++
		default:
			return n
		}
	}
}

func TestRelayFeedsOnlyRelayOnlyObservers(t *testing.T) {
	e := newRelayEnv(t)
	remote := e.connect(t, "remote-observer", "", true, false)
	localObserver := e.connect(t, "local-observer", "", true, true)
	player := e.connect(t, "player", "ada", false, true)

	msg := &fakeMsg{subject: e.relay.subject(e.code), data: e.envelope(t, "instance-b")}
	if err := e.relay.processMessage(msg); err != nil {
		t.Fatalf("processMessage failed: %v", err)
	}
	if n := e.drainBroadcasts(); n != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", n)
	}

	if len(remote.Send) != 1 {
		t.Fatalf("Expected relay-only observer to get the envelope, got %d frames", len(remote.Send))
	}
	var got events.Envelope
	if err := json.Unmarshal(<-remote.Send, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != events.EventTypeRoundReset || got.Origin != "instance-b" {
		t.Errorf("Unexpected envelope %+v", got)
	}

	// Locally fed connections already see the room through their subscription.
	if len(localObserver.Send) != 0 || len(player.Send) != 0 {
		t.Errorf("Expected no relayed frames for local connections, got %d and %d", len(localObserver.Send), len(player.Send))
	}
}

func TestRelayProcessMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    func(e *relayEnv, t *testing.T) []byte
		wantErr bool
	}{
		{
			name: "own origin is skipped",
			data: func(e *relayEnv, t *testing.T) []byte { return e.envelope(t, "instance-a") },
		},
		{
			name:    "not json",
			data:    func(e *relayEnv, t *testing.T) []byte { return []byte("{") },
			wantErr: true,
		},
		{
			name:    "missing room code",
			data:    func(e *relayEnv, t *testing.T) []byte { return []byte(`{"id":"x","type":"RoundReset","origin":"instance-b"}`) },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newRelayEnv(t)
			observer := e.connect(t, "remote-observer", "", true, false)

			err := e.relay.processMessage(&fakeMsg{subject: "poker.rooms.X", data: tt.data(e, t)})
			if tt.wantErr && err == nil {
				t.Error("Expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if n := e.drainBroadcasts(); n != 0 {
				t.Errorf("Expected nothing broadcast, got %d", n)
			}
			if len(observer.Send) != 0 {
				t.Errorf("Expected no frames, got %d", len(observer.Send))
			}
		})
	}
}

func TestRelayMirrorsPublicView(t *testing.T) {
	e := newRelayEnv(t)
	ctx := context.Background()

	e.relay.Watch(e.code)
	e.relay.Watch(e.code)

	next := func() *nats.Msg {
		t.Helper()
		select {
		case msg := <-e.js.published:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a relayed publish")
			return nil
		}
	}

	first := next()
	if want := "poker.rooms." + e.code; first.Subject != want {
		t.Errorf("Expected subject %s, got %s", want, first.Subject)
	}
	if first.Header.Get("Room-Code") != e.code {
		t.Errorf("Expected Room-Code header %s, got %q", e.code, first.Header.Get("Room-Code"))
	}

	e.app.Connected(e.code, e.owner)
	if _, err := e.app.JoinRoom(ctx, e.code, "Ada", e.owner, false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.app.CastVote(ctx, e.code, e.owner, "8"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	var voted *nats.Msg
	for voted == nil {
		msg := next()
		var env events.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Origin != "instance-a" {
			t.Errorf("Expected origin instance-a, got %q", env.Origin)
		}
		if env.Type != events.EventTypeRoomSnapshot {
			continue
		}
		var view events.RoomView
		if err := json.Unmarshal(env.Data, &view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		p, ok := playerView(view, e.owner)
		if !ok || !p.HasVoted {
			continue
		}
		if p.Vote != nil {
			t.Error("Expected the relayed view to hide votes")
		}
		voted = msg
	}

	// The instance never replays its own mirror to itself.
	e.connect(t, "remote-observer", "", true, false)
	if err := e.relay.processMessage(&fakeMsg{subject: voted.Subject, data: voted.Data}); err != nil {
		t.Fatalf("processMessage failed: %v", err)
	}
	if n := e.drainBroadcasts(); n != 0 {
		t.Errorf("Expected own envelope to be skipped, got %d broadcasts", n)
	}

	e.relay.Unwatch(e.code)
	e.relay.mu.Lock()
	watched := len(e.relay.watched)
	e.relay.mu.Unlock()
	if watched != 0 {
		t.Errorf("Expected no watched rooms, got %d", watched)
	}
}
