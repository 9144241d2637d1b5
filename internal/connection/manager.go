// Connection lifecycle manager of the SecondInning client.
// Owns the single live transport to the server: dialing, bounded
// reconnection with backoff, room joins and health probing.

package connection

import (
	"SecondInning/internal/entity"
	"SecondInning/internal/errors"
	"SecondInning/pkg/log"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/rs/xid"
)

// Config tunes the connection lifecycle. Zero fields fall back to the
// platform defaults below.
type Config struct {
	// Bounded retry budget before the manager gives up.
	MaxReconnectAttempts int
	// Initial delay before a redial, doubled per failed attempt.
	ReconnectWait time.Duration
	// Cap on the doubling redial delay.
	ReconnectMaxWait time.Duration
	// Deadline on a single dial.
	ConnectTimeout time.Duration
	// Interval of the liveness check while connected.
	HealthProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 1 * time.Second
	}
	if c.ReconnectMaxWait == 0 {
		c.ReconnectMaxWait = 5 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.HealthProbeInterval == 0 {
		c.HealthProbeInterval = 2 * time.Minute
	}
	return c
}

// StateFunc observes connection state transitions.
type StateFunc func(entity.ConnectionState)

// Manager owns the single live connection to the SecondInning server.
type Manager interface {
	// Connect dials for the given identity. Idempotent while a connection
	// for the same identity is alive; a different identity tears the old
	// connection down first. Returns an error only for an invalid identity.
	Connect(ctx context.Context, who entity.Identity) error
	// Disconnect closes the transport and stops all retries. Safe to call
	// when already disconnected.
	Disconnect()
	// Reconnect forces a close and redial of the current transport,
	// restarting the retry budget. Used for manual user-triggered retry.
	Reconnect()
	// State returns a read-only snapshot of the connection lifecycle.
	State() entity.ConnectionState
	// OnStateChange registers a listener invoked on every status
	// transition. The returned handle must be called on consumer teardown.
	OnStateChange(listener StateFunc) func()
	// OnReconnected registers a listener for the transient signal emitted
	// when Connected is reached again after a lost connection.
	OnReconnected(listener func(attempts int)) func()
	// OnEvent registers a handler for a named server event. Registrations
	// survive reconnect cycles; the handle removes exactly this handler.
	OnEvent(event string, handler func(data json.RawMessage)) func()
	// Emit sends a named event to the server over the live transport.
	Emit(event string, payload interface{}) error
	// RequestRooms asks the server to report the rooms of this connection.
	RequestRooms() error
	// SendTestNotification asks the server to push a test delivery back.
	SendTestNotification() error
}

type manager struct {
	cfg     Config
	factory TransportFactory
	logger  log.Logger

	mu        sync.Mutex
	who       entity.Identity
	hasWho    bool
	epoch     string
	state     entity.ConnectionState
	transport Transport

	handlers   map[string]map[int]func(json.RawMessage)
	stateSubs  map[int]StateFunc
	reconnSubs map[int]func(int)
	nextSub    int

	retryTimer *time.Timer
	probeStop  chan struct{}
}

// NewManager wires a connection manager around a transport factory.
// Pass WebsocketFactory for the real wire.
func NewManager(cfg Config, factory TransportFactory, logger log.Logger) Manager {
	return &manager{
		cfg:        cfg.withDefaults(),
		factory:    factory,
		logger:     logger,
		state:      entity.ConnectionState{Status: entity.Disconnected},
		handlers:   make(map[string]map[int]func(json.RawMessage)),
		stateSubs:  make(map[int]StateFunc),
		reconnSubs: make(map[int]func(int)),
	}
}

func (m *manager) Connect(ctx context.Context, who entity.Identity) error {
	if _, valerr := govalidator.ValidateStruct(who); valerr != nil {
		m.logger.WithCtx(ctx).Error().Err(valerr).Msg("Refusing to connect without a valid identity")
		return errors.TransportError("Cannot connect without a valid identity.", valerr)
	}

	m.mu.Lock()
	alive := m.state.Status == entity.Connecting ||
		m.state.Status == entity.Connected ||
		m.state.Status == entity.Reconnecting
	if m.hasWho && m.who == who && alive {
		// Already connected (or getting there) for this identity.
		m.mu.Unlock()
		return nil
	}
	if m.hasWho {
		// Either a dead connection being restarted or an identity switch,
		// both start from a clean slate.
		m.teardownLocked()
	}
	m.who, m.hasWho = who, true
	m.epoch = xid.New().String()
	epoch := m.epoch
	m.state = entity.ConnectionState{Status: entity.Connecting}
	m.transport = m.factory(who, m.eventSink(epoch), m.dropSink(epoch))
	notify := m.fanoutLocked()
	m.mu.Unlock()

	notify()
	go m.dial(epoch)
	return nil
}

func (m *manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.state = entity.ConnectionState{Status: entity.Disconnected}
	notify := m.fanoutLocked()
	m.mu.Unlock()
	notify()
}

func (m *manager) Reconnect() {
	m.mu.Lock()
	if !m.hasWho {
		m.logger.Warn().Msg("Reconnect called without a prior Connect, nothing to redial")
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.epoch = xid.New().String()
	epoch := m.epoch
	// A manual retry restarts the budget, the redial in flight counts as
	// the first attempt.
	m.state = entity.ConnectionState{Status: entity.Reconnecting, Attempts: 1, LastError: m.state.LastError}
	m.transport = m.factory(m.who, m.eventSink(epoch), m.dropSink(epoch))
	notify := m.fanoutLocked()
	m.mu.Unlock()

	notify()
	go m.dial(epoch)
}

func (m *manager) State() entity.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCopyLocked()
}

func (m *manager) OnStateChange(listener StateFunc) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.stateSubs[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.stateSubs, id)
	}
}

func (m *manager) OnReconnected(listener func(attempts int)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.reconnSubs[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.reconnSubs, id)
	}
}

func (m *manager) OnEvent(event string, handler func(data json.RawMessage)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]func(json.RawMessage))
	}
	id := m.nextSub
	m.nextSub++
	m.handlers[event][id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

func (m *manager) Emit(event string, payload interface{}) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return errors.TransportError("Cannot emit without an open connection.", nil)
	}
	return t.Emit(event, payload)
}

func (m *manager) RequestRooms() error {
	return m.Emit(EventGetMyRooms, nil)
}

func (m *manager) SendTestNotification() error {
	m.mu.Lock()
	userID := m.who.ID
	m.mu.Unlock()
	return m.Emit(EventTestNotification, struct {
		UserID string `json:"userId"`
	}{UserID: userID})
}

// dial performs a single connect attempt for the given epoch.
// Results belonging to a stale epoch are discarded, never applied.
func (m *manager) dial(epoch string) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	t := m.transport
	timeout := m.cfg.ConnectTimeout
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	dialerr := t.Dial(ctx)
	cancel()

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		if dialerr == nil {
			// Identity changed while dialing, the fresh wire is orphaned.
			t.Close()
		}
		return
	}
	if dialerr != nil {
		m.failedAttemptLocked(epoch, dialerr)
		return
	}
	m.connectedLocked(epoch)
}

// failedAttemptLocked counts a dial failure against the budget and either
// schedules the next redial or parks the manager in Failed.
// Unlocks m.mu and fans out the transition before returning.
func (m *manager) failedAttemptLocked(epoch string, dialerr error) {
	m.state.Attempts++
	m.state.LastError = dialerr.Error()
	if m.state.Attempts >= m.cfg.MaxReconnectAttempts {
		m.state.Status = entity.Failed
		m.state.LastError = errors.RetryExhausted("").Error()
		attempts := m.state.Attempts
		notify := m.fanoutLocked()
		m.mu.Unlock()
		m.logger.Error().Err(dialerr).Msgf("Giving up on the server after %d attempts", attempts)
		notify()
		return
	}

	m.state.Status = entity.Reconnecting
	delay := m.backoffLocked()
	m.retryTimer = time.AfterFunc(delay, func() { m.dial(epoch) })
	attempts := m.state.Attempts
	notify := m.fanoutLocked()
	m.mu.Unlock()
	m.logger.Warn().Err(dialerr).Msgf("Connect attempt %d failed, retrying in %s", attempts, delay)
	notify()
}

// connectedLocked applies a successful dial: resets the budget, joins the
// identity's room and starts the health probe.
// Unlocks m.mu and fans out the transition before returning.
func (m *manager) connectedLocked(epoch string) {
	prevStatus := m.state.Status
	prevAttempts := m.state.Attempts
	m.state = entity.ConnectionState{
		Status:          entity.Connected,
		Attempts:        0,
		LastConnectedAt: time.Now(),
	}
	who := m.who
	t := m.transport
	if m.probeStop == nil {
		m.probeStop = make(chan struct{})
		go m.probe(epoch, m.probeStop)
	}
	if who.ID == "" {
		// Should be unreachable past Connect validation, surface loudly.
		m.state.LastError = "Connected without a user id, room join skipped"
	}
	notify := m.fanoutLocked()
	var reconnSubs []func(int)
	if prevStatus == entity.Reconnecting {
		// A repaired connection, not the first one of this identity.
		for _, f := range m.reconnSubs {
			reconnSubs = append(reconnSubs, f)
		}
	}
	m.mu.Unlock()

	if who.ID == "" {
		m.logger.Error().Msg("Connected without a user id, room join skipped")
	} else if joinerr := t.Emit(EventJoin, who); joinerr != nil {
		m.logger.Error().Err(joinerr).Msgf("Couldn't join room for %s:%s", who.Role, who.ID)
	} else {
		m.logger.Info().Msgf("Connected, joined room as %s:%s", who.Role, who.ID)
	}
	notify()
	for _, f := range reconnSubs {
		f(prevAttempts)
	}
}

// handleDrop reacts to a lost wire while Connected, from either the
// transport drop callback or the health probe.
func (m *manager) handleDrop(epoch string, droperr error) {
	m.mu.Lock()
	if m.epoch != epoch || m.state.Status != entity.Connected {
		m.mu.Unlock()
		return
	}
	m.state.Status = entity.Reconnecting
	m.state.LastError = droperr.Error()
	delay := m.backoffLocked()
	m.retryTimer = time.AfterFunc(delay, func() { m.dial(epoch) })
	notify := m.fanoutLocked()
	m.mu.Unlock()
	m.logger.Warn().Err(droperr).Msgf("Lost connection to the server, redialing in %s", delay)
	notify()
}

// probe verifies transport liveness on a fixed interval while Connected.
// A dead wire is repaired through the normal reconnection path instead of
// waiting for a drop event that may never arrive.
func (m *manager) probe(epoch string, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.epoch != epoch {
				m.mu.Unlock()
				return
			}
			if m.state.Status != entity.Connected {
				m.mu.Unlock()
				continue
			}
			t := m.transport
			m.mu.Unlock()
			if !t.Connected() {
				m.logger.Warn().Msg("Health probe found the transport dead")
				m.handleDrop(epoch, errors.TransportError("Health probe found the transport dead.", nil))
			}
		}
	}
}

// backoffLocked returns the redial delay for the current attempt count,
// doubling from the initial wait up to the configured cap.
func (m *manager) backoffLocked() time.Duration {
	delay := m.cfg.ReconnectWait
	for i := 1; i < m.state.Attempts; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxWait {
			return m.cfg.ReconnectMaxWait
		}
	}
	if delay > m.cfg.ReconnectMaxWait {
		delay = m.cfg.ReconnectMaxWait
	}
	return delay
}

// teardownLocked cancels timers, stops the probe, closes the transport and
// invalidates the epoch so in-flight callbacks for it are discarded.
func (m *manager) teardownLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.probeStop != nil {
		close(m.probeStop)
		m.probeStop = nil
	}
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.epoch = xid.New().String()
}

// eventSink routes decoded server events for one epoch into the handler
// registry, keeping connection-level events for the manager itself.
func (m *manager) eventSink(epoch string) EventFunc {
	return func(event string, data json.RawMessage) {
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return
		}
		switch event {
		case EventWelcome:
			m.mu.Unlock()
			var hello struct {
				Message string `json:"message"`
			}
			if jsonerr := json.Unmarshal(data, &hello); jsonerr == nil {
				m.logger.Info().Msgf("Server says: %s", hello.Message)
			}
			return
		case EventJoined, EventYourRooms:
			var payload struct {
				Rooms []string `json:"rooms"`
			}
			if jsonerr := json.Unmarshal(data, &payload); jsonerr != nil {
				m.mu.Unlock()
				m.logger.Warn().Err(jsonerr).Msgf("Undecodable %s payload", event)
				return
			}
			m.state.Rooms = payload.Rooms
			notify := m.fanoutLocked()
			m.mu.Unlock()
			m.logger.Info().Msgf("Room membership confirmed: %v", payload.Rooms)
			notify()
			return
		}
		hs := make([]func(json.RawMessage), 0, len(m.handlers[event]))
		for _, h := range m.handlers[event] {
			hs = append(hs, h)
		}
		m.mu.Unlock()
		for _, h := range hs {
			h(data)
		}
	}
}

func (m *manager) dropSink(epoch string) DropFunc {
	return func(droperr error) {
		m.handleDrop(epoch, droperr)
	}
}

// fanoutLocked snapshots the state and its listeners; the returned closure
// must be invoked after m.mu is released.
func (m *manager) fanoutLocked() func() {
	st := m.stateCopyLocked()
	subs := make([]StateFunc, 0, len(m.stateSubs))
	for _, f := range m.stateSubs {
		subs = append(subs, f)
	}
	return func() {
		for _, f := range subs {
			f(st)
		}
	}
}

func (m *manager) stateCopyLocked() entity.ConnectionState {
	st := m.state
	if len(m.state.Rooms) > 0 {
		st.Rooms = append([]string(nil), m.state.Rooms...)
	}
	return st
}
