package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ernie/fragwatch/internal/domain"
)

// subjectPrefix namespaces all tracker events on the bus.
const subjectPrefix = "fragwatch.events."

// Bus is an in-process NATS server plus a client connection, used to fan
// tracker events out to subscribers (the WebSocket hub, tests) without
// coupling them to the event pipeline.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// New starts an embedded NATS server that accepts only in-process
// connections and connects a client to it.
func New() (*Bus, error) {
	srv, err := server.NewServer(&server.Options{
		ServerName: "fragwatch",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bus server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("bus server not ready")
	}

	conn, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}

	return &Bus{srv: srv, conn: conn}, nil
}

// Publish sends an event on the bus. Failures are logged, never fatal:
// losing a notification does not affect the stats pipeline.
func (b *Bus) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("marshaling bus event")
		return
	}
	if err := b.conn.Publish(subjectPrefix+event.Type, data); err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("publishing bus event")
	}
}

// Subscribe delivers every tracker event to the handler until the
// returned subscription is unsubscribed.
func (b *Bus) Subscribe(handler func(domain.Event)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		var event domain.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("decoding bus event")
			return
		}
		handler(event)
	})
}

// Close drains the client connection and stops the embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
