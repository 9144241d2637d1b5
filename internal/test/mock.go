// Mock collaborators required in SecondInning client tests are all here.

package test

import (
	"SecondInning/internal/connection"
	"SecondInning/internal/entity"
	"SecondInning/pkg/log"
	"context"
	"encoding/json"
	"sync"
)

// MockTransport is a scriptable stand-in for the websocket wire.
// Dial outcomes are consumed from DialErrs in order; once the queue is
// empty every Dial succeeds.
type MockTransport struct {
	mu        sync.Mutex
	DialErrs  []error
	dials     int
	connected bool
	emitted   []connection.Envelope
	onEvent   connection.EventFunc
	onDrop    connection.DropFunc
}

// MockFactory returns a transport factory handing out the same
// MockTransport across reconnect cycles, re-binding the manager's sinks on
// every call.
func MockFactory(mt *MockTransport) connection.TransportFactory {
	return func(who entity.Identity, onEvent connection.EventFunc, onDrop connection.DropFunc) connection.Transport {
		mt.mu.Lock()
		mt.onEvent = onEvent
		mt.onDrop = onDrop
		mt.mu.Unlock()
		return mt
	}
}

func (mt *MockTransport) Dial(ctx context.Context) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.dials++
	if len(mt.DialErrs) > 0 {
		dialerr := mt.DialErrs[0]
		mt.DialErrs = mt.DialErrs[1:]
		if dialerr != nil {
			return dialerr
		}
	}
	mt.connected = true
	return nil
}

func (mt *MockTransport) Emit(event string, payload interface{}) error {
	data, jsonerr := json.Marshal(payload)
	if jsonerr != nil {
		return jsonerr
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.emitted = append(mt.emitted, connection.Envelope{Event: event, Data: data})
	return nil
}

func (mt *MockTransport) Connected() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.connected
}

func (mt *MockTransport) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.connected = false
	return nil
}

// DialCount reports how many Dial attempts the manager made.
func (mt *MockTransport) DialCount() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.dials
}

// Emitted returns the event names sent to the server in order.
func (mt *MockTransport) Emitted() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	events := make([]string, 0, len(mt.emitted))
	for _, env := range mt.emitted {
		events = append(events, env.Event)
	}
	return events
}

// EmittedCount reports how many times the named event was sent.
func (mt *MockTransport) EmittedCount(event string) int {
	count := 0
	for _, sent := range mt.Emitted() {
		if sent == event {
			count++
		}
	}
	return count
}

// Inject simulates a server-pushed event arriving on the wire.
func (mt *MockTransport) Inject(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	mt.mu.Lock()
	onEvent := mt.onEvent
	mt.mu.Unlock()
	if onEvent != nil {
		onEvent(event, data)
	}
}

// InjectRaw simulates a server-pushed event with a raw JSON payload.
func (mt *MockTransport) InjectRaw(event string, data string) {
	mt.mu.Lock()
	onEvent := mt.onEvent
	mt.mu.Unlock()
	if onEvent != nil {
		onEvent(event, json.RawMessage(data))
	}
}

// Drop simulates the wire being lost underneath the manager.
func (mt *MockTransport) Drop(droperr error) {
	mt.mu.Lock()
	mt.connected = false
	onDrop := mt.onDrop
	mt.mu.Unlock()
	if onDrop != nil {
		onDrop(droperr)
	}
}

// MockWatermark is an in-memory notification.Repository.
type MockWatermark struct {
	mu       sync.Mutex
	TS       int64
	GetErr   error
	SetErr   error
	setCalls int
}

func (mw *MockWatermark) GetWatermark(ctx context.Context, logger log.Logger) (int64, error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.GetErr != nil {
		return 0, mw.GetErr
	}
	return mw.TS, nil
}

func (mw *MockWatermark) SetWatermark(ctx context.Context, logger log.Logger, ts int64) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.setCalls++
	if mw.SetErr != nil {
		return mw.SetErr
	}
	mw.TS = ts
	return nil
}

// Stored returns the currently persisted watermark.
func (mw *MockWatermark) Stored() int64 {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.TS
}

// SetCalls reports how many persist attempts were made.
func (mw *MockWatermark) SetCalls() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.setCalls
}

// MockFetcher is a canned notification.Fetcher.
type MockFetcher struct {
	mu sync.Mutex

	Announcements    []entity.Announcement
	AnnouncementsErr error

	FeedbackCount    int
	FeedbackCountErr error

	Engagements    []entity.ParentEngagement
	EngagementsErr error

	MarkReadCount int
	MarkReadErr   error
	markReadCalls int
}

func (mf *MockFetcher) FetchAnnouncements(ctx context.Context) ([]entity.Announcement, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.AnnouncementsErr != nil {
		return nil, mf.AnnouncementsErr
	}
	return append([]entity.Announcement(nil), mf.Announcements...), nil
}

func (mf *MockFetcher) FetchUnreadFeedbackCount(ctx context.Context) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.FeedbackCountErr != nil {
		return 0, mf.FeedbackCountErr
	}
	return mf.FeedbackCount, nil
}

func (mf *MockFetcher) FetchUnreadParentEngagements(ctx context.Context) ([]entity.ParentEngagement, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.EngagementsErr != nil {
		return nil, mf.EngagementsErr
	}
	return append([]entity.ParentEngagement(nil), mf.Engagements...), nil
}

func (mf *MockFetcher) MarkParentEngagementsRead(ctx context.Context) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.markReadCalls++
	if mf.MarkReadErr != nil {
		return 0, mf.MarkReadErr
	}
	return mf.MarkReadCount, nil
}

// SetAnnouncements swaps the canned announcement response mid-test.
func (mf *MockFetcher) SetAnnouncements(anns []entity.Announcement) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.Announcements = anns
}

// MarkReadCalls reports how many server-side read receipts were attempted.
func (mf *MockFetcher) MarkReadCalls() int {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mf.markReadCalls
}

// MockSource is an in-memory ingest.Source recording listener churn.
type MockSource struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(json.RawMessage)
	nextID   int
	emitted  []connection.Envelope
}

func NewMockSource() *MockSource {
	return &MockSource{handlers: make(map[string]map[int]func(json.RawMessage))}
}

func (ms *MockSource) OnEvent(event string, handler func(data json.RawMessage)) func() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.handlers[event] == nil {
		ms.handlers[event] = make(map[int]func(json.RawMessage))
	}
	id := ms.nextID
	ms.nextID++
	ms.handlers[event][id] = handler
	return func() {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		delete(ms.handlers[event], id)
	}
}

func (ms *MockSource) Emit(event string, payload interface{}) error {
	data, jsonerr := json.Marshal(payload)
	if jsonerr != nil {
		return jsonerr
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.emitted = append(ms.emitted, connection.Envelope{Event: event, Data: data})
	return nil
}

// Inject dispatches a server event to the registered handlers.
func (ms *MockSource) Inject(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	ms.InjectRaw(event, string(data))
}

// InjectRaw dispatches a raw JSON payload to the registered handlers.
func (ms *MockSource) InjectRaw(event string, data string) {
	ms.mu.Lock()
	hs := make([]func(json.RawMessage), 0, len(ms.handlers[event]))
	for _, h := range ms.handlers[event] {
		hs = append(hs, h)
	}
	ms.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(data))
	}
}

// HandlerCount reports how many listeners are currently attached.
func (ms *MockSource) HandlerCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	count := 0
	for _, hs := range ms.handlers {
		count += len(hs)
	}
	return count
}

// Emitted returns the acknowledgments and other frames sent by ingestion.
func (ms *MockSource) Emitted() []connection.Envelope {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]connection.Envelope(nil), ms.emitted...)
}
