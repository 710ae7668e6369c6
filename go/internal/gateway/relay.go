package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for the JetStream relay
type RelayConfig struct {
	URL               string
	StreamName        string
	SubjectPrefix     string        // e.g., "poker.rooms"
	MaxReconnects     int
	ReconnectWait     time.Duration
	MaxAge            time.Duration // How long to keep messages
	Replicas          int
	DuplicateWindow   time.Duration
	AckWait           time.Duration
	MaxAckPending     int
	InactiveThreshold time.Duration // Consumer cleanup after the instance goes away
	PublishTimeout    time.Duration
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:               nats.DefaultURL,
		StreamName:        "POKER_EVENTS",
		SubjectPrefix:     "poker.rooms",
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxAge:            time.Hour,
		Replicas:          1,
		DuplicateWindow:   2 * time.Minute,
		AckWait:           30 * time.Second,
		MaxAckPending:     1000,
		InactiveThreshold: time.Hour,
		PublishTimeout:    5 * time.Second,
	}
}

// Relay mirrors the public view of locally hosted rooms onto JetStream and
// hands envelopes published by other instances to local observers.
type Relay struct {
	app               RoomApp
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	consumer          jetstream.Consumer
	config            RelayConfig
	instanceID        string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watched map[string]*session.Subscription
}

// NewRelay connects to NATS and makes sure the stream and this instance's
// consumer exist.
func NewRelay(app RoomApp, cm *ConnectionManager, config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		app:               app,
		connectionManager: cm,
		nc:                nc,
		js:                js,
		config:            config,
		instanceID:        uuid.New().String(),
		ctx:               ctx,
		cancel:            cancel,
		watched:           make(map[string]*session.Subscription),
	}

	if err := r.ensureStream(ctx); err != nil {
		r.Stop()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	if err := r.ensureConsumer(ctx); err != nil {
		r.Stop()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Planning poker room updates",
		Subjects:    []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		MaxMsgs:     -1,
		Storage:     jetstream.MemoryStorage,
		Replicas:    r.config.Replicas,
		Duplicates:  r.config.DuplicateWindow,
	}

	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		if _, err = r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = r.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func (r *Relay) ensureConsumer(ctx context.Context) error {
	name := "poker-gateway-" + r.instanceID
	consumer, err := r.js.CreateOrUpdateConsumer(ctx, r.config.StreamName, jetstream.ConsumerConfig{
		Name:              name,
		Durable:           name,
		Description:       "Planning poker observer relay",
		FilterSubject:     fmt.Sprintf("%s.>", r.config.SubjectPrefix),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           r.config.AckWait,
		MaxAckPending:     r.config.MaxAckPending,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
		InactiveThreshold: r.config.InactiveThreshold,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", name).
		Str("stream", r.config.StreamName).
		Msg("created JetStream consumer")
	r.consumer = consumer
	return nil
}

// Start consumes relayed envelopes until ctx is cancelled
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("instance_id", r.instanceID).
		Str("stream", r.config.StreamName).
		Msg("starting JetStream relay")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := r.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := r.processMessage(msg); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process relayed message")
				// Malformed envelopes never become valid; drop them.
				if termErr := msg.Term(); termErr != nil {
					log.Error().Err(termErr).Msg("failed to TERM message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (r *Relay) processMessage(msg jetstream.Msg) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Origin == r.instanceID {
		return nil
	}
	if env.RoomCode == "" {
		return fmt.Errorf("envelope %s has no room code", env.ID)
	}

	r.connectionManager.BroadcastToRoom(env.RoomCode, &env)
	return nil
}

// Watch starts mirroring a locally hosted room.
func (r *Relay) Watch(roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watched[roomCode]; ok {
		return
	}
	sub, err := r.app.Subscribe(r.ctx, roomCode)
	if err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("failed to watch room for relay")
		return
	}
	r.watched[roomCode] = sub
	go r.mirror(roomCode, sub)

	log.Debug().Str("room_code", roomCode).Msg("relay watching room")
}

// Unwatch stops mirroring a room.
func (r *Relay) Unwatch(roomCode string) {
	r.mu.Lock()
	sub, ok := r.watched[roomCode]
	delete(r.watched, roomCode)
	r.mu.Unlock()

	if ok {
		sub.Close()
		log.Debug().Str("room_code", roomCode).Msg("relay stopped watching room")
	}
}

func (r *Relay) mirror(roomCode string, sub *session.Subscription) {
	defer func() {
		r.mu.Lock()
		if r.watched[roomCode] == sub {
			delete(r.watched, roomCode)
		}
		r.mu.Unlock()
	}()

	for u := range sub.Updates() {
		envs, err := renderUpdate(u, "", time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Str("room_code", roomCode).Msg("failed to render update for relay")
			continue
		}
		for _, env := range envs {
			env.Origin = r.instanceID
			if err := r.publish(env); err != nil {
				log.Error().Err(err).Str("room_code", roomCode).Str("event_type", string(env.Type)).Msg("failed to relay event")
			}
		}
	}
}

func (r *Relay) publish(env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.config.PublishTimeout)
	defer cancel()

	subject := r.subject(env.RoomCode)
	ack, err := r.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(env.Type)},
			"Room-Code":  []string{env.RoomCode},
			"Event-ID":   []string{env.ID},
		},
	},
		jetstream.WithMsgID(env.ID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", env.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")
	return nil
}

func (r *Relay) subject(roomCode string) string {
	return fmt.Sprintf("%s.%s", r.config.SubjectPrefix, strings.ToUpper(roomCode))
}

// Stop closes every mirror and the NATS connection
func (r *Relay) Stop() error {
	log.Info().Msg("stopping relay")

	r.cancel()
	r.mu.Lock()
	subs := r.watched
	r.watched = make(map[string]*session.Subscription)
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
