// Event ingestion tests in the SecondInning client.

package ingest_test

import (
	"SecondInning/internal/connection"
	"SecondInning/internal/entity"
	"SecondInning/internal/ingest"
	"SecondInning/internal/test"
	"SecondInning/pkg/log"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Global instance of log.Logger to be used during ingestion testing.
var logger log.Logger

// Global context
var ctx context.Context = context.Background()

func TestMain(m *testing.M) {
	logger = log.New("test")
	ingest.RegisterCustomValidations(ctx, logger)
	m.Run()
}

// recorderAggregator captures everything ingestion forwards downstream.
type recorderAggregator struct {
	mu      sync.Mutex
	merged  []entity.NotificationItem
	removed []string
	toasts  []entity.Toast
}

func (ra *recorderAggregator) Merge(item entity.NotificationItem) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.merged = append(ra.merged, item)
}

func (ra *recorderAggregator) Remove(category entity.Category, id string) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.removed = append(ra.removed, string(category)+":"+id)
}

func (ra *recorderAggregator) PublishToast(toast entity.Toast) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.toasts = append(ra.toasts, toast)
}

// dropRecorder captures malformed-payload reports.
type dropRecorder struct {
	mu     sync.Mutex
	events []string
}

func (dr *dropRecorder) sink(event string, err error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.events = append(dr.events, event)
}

func (dr *dropRecorder) dropped() []string {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return append([]string(nil), dr.events...)
}

// Helper to start ingestion for a role over a scriptable source.
func setupIngest(role string) (*test.MockSource, *recorderAggregator, *dropRecorder, func()) {
	source := test.NewMockSource()
	agg := &recorderAggregator{}
	drops := &dropRecorder{}
	who := entity.Identity{ID: "user-1", Role: role}
	svc := ingest.NewService(agg, who, nil, drops.sink, logger)
	stop := svc.Start(source)
	return source, agg, drops, stop
}

func TestAnnouncementMergedAndAcknowledged(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventNewAnnouncement,
		`{"_id":"a1","title":"Trials","content":"Sunday 9am","createdAt":1700000000000}`)

	assert.Len(t, agg.merged, 1)
	ann, ok := agg.merged[0].(entity.Announcement)
	assert.True(t, ok)
	assert.Equal(t, "a1", ann.ID)
	assert.Empty(t, drops.dropped())

	emitted := source.Emitted()
	assert.Len(t, emitted, 1)
	assert.Equal(t, connection.EventNotificationReceived, emitted[0].Event)
	var ack connection.ReceivedAck
	assert.NoError(t, json.Unmarshal(emitted[0].Data, &ack))
	assert.Equal(t, string(entity.CategoryAnnouncement), ack.Type)
	assert.Equal(t, "a1", ack.ID)
	assert.Greater(t, ack.Timestamp, int64(0))
}

func TestMalformedJSONDroppedNotPropagated(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventNewAnnouncement, `{"_id": "a1", "title":`)

	assert.Empty(t, agg.merged)
	assert.Equal(t, []string{connection.EventNewAnnouncement}, drops.dropped())
	assert.Empty(t, source.Emitted())
}

func TestMissingRequiredFieldsDropped(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	// No title.
	source.InjectRaw(connection.EventNewAnnouncement,
		`{"_id":"a1","content":"Sunday 9am","createdAt":1700000000000}`)
	// No createdAt.
	source.InjectRaw(connection.EventUpdateAnnouncement,
		`{"_id":"a2","title":"Trials","content":"Sunday 9am"}`)

	assert.Empty(t, agg.merged)
	assert.Len(t, drops.dropped(), 2)
}

func TestDeleteAnnouncementForwarded(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventDeleteAnnouncement, `{"id":"a1"}`)
	assert.Equal(t, []string{"announcement:a1"}, agg.removed)

	source.InjectRaw(connection.EventDeleteAnnouncement, `{}`)
	assert.Len(t, agg.removed, 1)
	assert.Equal(t, []string{connection.EventDeleteAnnouncement}, drops.dropped())
}

func TestPlayerReceivesFeedbackAndEngagements(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventNewFeedback,
		`{"_id":"f1","coach":"c1","category":"batting","text":"nice cover drive","createdAt":1700000000000}`)
	source.InjectRaw(connection.EventNewParentEngagement,
		`{"engagement":{"_id":"e1","parent":"p1","reactionType":"clap","createdAt":1700000000000},"message":"Dad reacted"}`)

	assert.Len(t, agg.merged, 2)
	assert.Empty(t, drops.dropped())
	// One stored-delivery ack per merged item.
	assert.Len(t, source.Emitted(), 2)
}

func TestUnknownReactionTypeDropped(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventNewParentEngagement,
		`{"engagement":{"_id":"e1","parent":"p1","reactionType":"thumbs","createdAt":1700000000000}}`)

	assert.Empty(t, agg.merged)
	assert.Equal(t, []string{connection.EventNewParentEngagement}, drops.dropped())
}

func TestParentRoleGetsNoPlayerOnlyListeners(t *testing.T) {
	source, agg, _, stop := setupIngest(entity.RoleParent)
	defer stop()

	// Announcements, delete, stats and achievements only.
	assert.Equal(t, 5, source.HandlerCount())

	source.InjectRaw(connection.EventNewFeedback,
		`{"_id":"f1","coach":"c1","text":"nice cover drive","createdAt":1700000000000}`)
	source.InjectRaw(connection.EventNewParentEngagement,
		`{"engagement":{"_id":"e1","parent":"p1","reactionType":"clap","createdAt":1700000000000}}`)
	assert.Empty(t, agg.merged)
}

func TestStatsUpdatedTriggersRefreshCallback(t *testing.T) {
	source := test.NewMockSource()
	refreshes := 0
	svc := ingest.NewService(&recorderAggregator{}, entity.Identity{ID: "user-1", Role: entity.RolePlayer},
		func() { refreshes++ }, nil, logger)
	stop := svc.Start(source)
	defer stop()

	source.InjectRaw(connection.EventStatsUpdated, `{}`)
	source.InjectRaw(connection.EventStatsUpdated, `{}`)
	assert.Equal(t, 2, refreshes)
}

func TestAchievementBecomesToastOnly(t *testing.T) {
	source, agg, drops, stop := setupIngest(entity.RolePlayer)
	defer stop()

	source.InjectRaw(connection.EventAchievementUnlocked, `{"title":"First Fifty"}`)
	assert.Empty(t, agg.merged)
	assert.Len(t, agg.toasts, 1)
	assert.Equal(t, "achievement:First Fifty", agg.toasts[0].DedupeKey)
	assert.Equal(t, entity.CategoryAchievement, agg.toasts[0].Category)
	assert.Equal(t, "First Fifty", agg.toasts[0].Message)

	source.InjectRaw(connection.EventAchievementUnlocked, `{}`)
	assert.Len(t, agg.toasts, 1)
	assert.Equal(t, []string{connection.EventAchievementUnlocked}, drops.dropped())
}

func TestStopDetachesEveryListener(t *testing.T) {
	source, agg, _, stop := setupIngest(entity.RolePlayer)

	assert.Equal(t, 7, source.HandlerCount())
	stop()
	assert.Equal(t, 0, source.HandlerCount())

	source.InjectRaw(connection.EventNewAnnouncement,
		`{"_id":"a1","title":"Trials","content":"Sunday 9am","createdAt":1700000000000}`)
	assert.Empty(t, agg.merged)
}
