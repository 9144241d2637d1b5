// Websocket transport of the SecondInning client.
// The transport is exclusively owned by the connection Manager; every other
// component only sees events dispatched through the manager.

package connection

import (
	"SecondInning/internal/entity"
	"SecondInning/pkg/log"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// EventFunc receives a decoded server event.
type EventFunc func(event string, data json.RawMessage)

// DropFunc is invoked once when an open wire is lost for any reason
// other than a deliberate Close.
type DropFunc func(err error)

// Transport is a dialable bidirectional wire to the server.
// Dial and Close may be cycled repeatedly on the same instance.
type Transport interface {
	// Dial opens the wire. Blocks until established or ctx expires.
	Dial(ctx context.Context) error
	// Emit sends a named event with a JSON-serializable payload.
	Emit(event string, payload interface{}) error
	// Connected reports whether the wire is currently open.
	Connected() bool
	// Close shuts the wire down without triggering the drop callback.
	Close() error
}

// TransportFactory builds a Transport for an identity along with the
// sinks its read loop will dispatch into.
type TransportFactory func(who entity.Identity, onEvent EventFunc, onDrop DropFunc) Transport

type wsTransport struct {
	url     string
	header  http.Header
	logger  log.Logger
	onEvent EventFunc
	onDrop  DropFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	writeCh chan []byte
	done    chan struct{}
	closing bool
}

// WebsocketFactory returns a TransportFactory dialing the given websocket URL.
// The identity's auth is carried on the handshake header by the caller.
func WebsocketFactory(url string, header http.Header, logger log.Logger) TransportFactory {
	return func(who entity.Identity, onEvent EventFunc, onDrop DropFunc) Transport {
		return &wsTransport{
			url:     url,
			header:  header,
			logger:  logger,
			onEvent: onEvent,
			onDrop:  onDrop,
		}
	}
}

func (t *wsTransport) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.conn != nil {
		// Stale wire left behind, drop it silently before replacing.
		t.conn.Close()
		close(t.done)
	}
	t.conn = conn
	t.closing = false
	t.writeCh = make(chan []byte, 64)
	t.done = make(chan struct{})
	writeCh, done := t.writeCh, t.done
	t.mu.Unlock()

	go t.writePump(conn, writeCh, done)
	go t.readPump(conn, done)
	return nil
}

// Single writer goroutine per wire, websocket writes must be serialized.
func (t *wsTransport) writePump(conn *websocket.Conn, writeCh chan []byte, done chan struct{}) {
	for {
		select {
		case frame := <-writeCh:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Error().Err(err).Msg("Error occured while writing frame to the server")
				return
			}
		case <-done:
			return
		}
	}
}

func (t *wsTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			deliberate := t.closing || t.conn != conn
			if t.conn == conn {
				t.conn = nil
				close(done)
			}
			t.mu.Unlock()
			if !deliberate && t.onDrop != nil {
				t.onDrop(err)
			}
			return
		}
		var env Envelope
		if jsonerr := json.Unmarshal(frame, &env); jsonerr != nil || env.Event == "" {
			t.logger.Warn().Msgf("Skipping undecodable frame from the server: %s", string(frame))
			continue
		}
		if t.onEvent != nil {
			t.onEvent(env.Event, env.Data)
		}
	}
}

func (t *wsTransport) Emit(event string, payload interface{}) error {
	var (
		data json.RawMessage
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return websocket.ErrCloseSent
	}
	select {
	case t.writeCh <- frame:
		return nil
	default:
		// Writer stalled long enough to fill the buffer, the health
		// probe or drop callback will repair the wire.
		return websocket.ErrCloseSent
	}
}

func (t *wsTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.closing = true
	err := t.conn.Close()
	t.conn = nil
	close(t.done)
	return err
}
