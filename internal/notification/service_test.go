// Notification aggregator tests in the SecondInning client.

package notification

import (
	"SecondInning/internal/entity"
	"SecondInning/internal/test"
	"SecondInning/pkg/log"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Global instance of log.Logger to be used during aggregator testing.
var logger log.Logger

// Global context
var ctx context.Context = context.Background()

func TestMain(m *testing.M) {
	// Setting up Resources
	logger = log.New("test")
	repositorySetup()
	// Running the tests
	testExitCode := m.Run()
	// Cleanup Resources
	repositoryTeardown()
	// Exit
	os.Exit(testExitCode)
}

// Helper to build an aggregator on in-memory collaborators.
func setupService(watermark int64, fetcher *test.MockFetcher) (Service, *test.MockWatermark) {
	repo := &test.MockWatermark{TS: watermark}
	if fetcher == nil {
		fetcher = &test.MockFetcher{}
	}
	return NewService(ctx, repo, fetcher, logger), repo
}

func announcement(id, title string, createdAt int64) entity.Announcement {
	return entity.Announcement{
		ID:        id,
		Title:     title,
		Content:   "content of " + title,
		CreatedAt: createdAt,
	}
}

func engagement(id string, createdAt int64) entity.ParentEngagement {
	return entity.ParentEngagement{
		ID:           id,
		ParentRef:    "parent-1",
		ReactionType: "clap",
		CreatedAt:    createdAt,
	}
}

func TestMergeDeduplicatesById(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(announcement("a1", "Trials", 1000))
	svc.Merge(announcement("a1", "Trials", 1000))
	assert.Len(t, svc.Announcements(), 1)
	assert.Equal(t, 1, svc.Counters().Announcements)

	// Last-applied payload wins, still exactly one entry.
	svc.Merge(announcement("a1", "Trials rescheduled", 1000))
	anns := svc.Announcements()
	assert.Len(t, anns, 1)
	assert.Equal(t, "Trials rescheduled", anns[0].Title)
	assert.Equal(t, 1, svc.Counters().Announcements)
}

func TestBootstrapThenMergeDoesNotDoubleCount(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Bootstrap(ctx, []entity.Announcement{
		announcement("a1", "Trials", 1000),
		announcement("a2", "Camp", 2000),
	})
	assert.Equal(t, 2, svc.Counters().Announcements)

	// Live redelivery of an item already in the bootstrap set.
	svc.Merge(announcement("a2", "Camp", 2000))
	assert.Equal(t, 2, svc.Counters().Announcements)
	assert.Len(t, svc.Announcements(), 2)
}

func TestOrderingNewestFirstWithTieBreak(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(announcement("a1", "old", 100))
	svc.Merge(announcement("a2", "newest", 300))
	svc.Merge(announcement("a3", "middle", 200))

	anns := svc.Announcements()
	assert.Equal(t, []string{"a2", "a3", "a1"}, []string{anns[0].ID, anns[1].ID, anns[2].ID})

	// Equal timestamps: the most recently merged item lands on top.
	svc.Merge(announcement("a4", "tied", 300))
	anns = svc.Announcements()
	assert.Equal(t, "a4", anns[0].ID)
	assert.Equal(t, "a2", anns[1].ID)
}

func TestWatermarkPartitionsReadFromUnread(t *testing.T) {
	svc, _ := setupService(500, nil)

	svc.Bootstrap(ctx, []entity.Announcement{
		announcement("seen", "old news", 400),
		announcement("fresh", "new news", 600),
	})
	assert.Equal(t, 1, svc.Counters().Announcements)
}

func TestMarkAllAnnouncementsReadIsIdempotent(t *testing.T) {
	svc, repo := setupService(0, nil)

	svc.Merge(announcement("a1", "Trials", 1000))
	svc.Merge(announcement("a2", "Camp", 2000))
	assert.Equal(t, 2, svc.Counters().Announcements)

	svc.MarkAllAnnouncementsRead(ctx)
	assert.Equal(t, 0, svc.Counters().Announcements)
	assert.Eventually(t, func() bool { return repo.Stored() == 2000 }, time.Second, 5*time.Millisecond)

	svc.MarkAllAnnouncementsRead(ctx)
	assert.Equal(t, 0, svc.Counters().Announcements)
	assert.Eventually(t, func() bool { return repo.SetCalls() == 2 }, time.Second, 5*time.Millisecond)
	// The watermark never moves backward.
	assert.Equal(t, int64(2000), repo.Stored())
}

func TestMarkAllAnnouncementsReadOnEmptyFeedIsANoOp(t *testing.T) {
	svc, repo := setupService(700, nil)

	svc.MarkAllAnnouncementsRead(ctx)
	assert.Equal(t, 0, svc.Counters().Announcements)
	assert.Equal(t, 0, repo.SetCalls())
	assert.Equal(t, int64(700), repo.Stored())
}

func TestMergeAfterMarkAllCountsAgainstNewWatermark(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(announcement("a1", "Trials", 1000))
	svc.MarkAllAnnouncementsRead(ctx)
	assert.Equal(t, 0, svc.Counters().Announcements)

	// Older than the watermark, arrives already read.
	svc.Merge(announcement("a0", "stale", 900))
	assert.Equal(t, 0, svc.Counters().Announcements)

	svc.Merge(announcement("a2", "Camp", 1100))
	assert.Equal(t, 1, svc.Counters().Announcements)
}

func TestRemoveUnreadAnnouncementDecrementsOnce(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(announcement("a1", "Trials", 1000))
	assert.Equal(t, 1, svc.Counters().Announcements)

	svc.Remove(entity.CategoryAnnouncement, "a1")
	assert.Equal(t, 0, svc.Counters().Announcements)
	assert.Empty(t, svc.Announcements())

	// Removing again never pushes the counter below zero.
	svc.Remove(entity.CategoryAnnouncement, "a1")
	assert.Equal(t, 0, svc.Counters().Announcements)
}

func TestParentEngagementRedeliveryCountsOnce(t *testing.T) {
	svc, _ := setupService(0, nil)

	var toasts []entity.Toast
	unsub := svc.OnToast(func(toast entity.Toast) { toasts = append(toasts, toast) })
	defer unsub()

	svc.Merge(engagement("e1", 1000))
	svc.Merge(engagement("e1", 1000))

	assert.Len(t, svc.ParentEngagements(), 1)
	assert.Equal(t, 1, svc.Counters().ParentEngagements)
	assert.Len(t, toasts, 1)
}

func TestAcknowledgeParentEngagementsOptimistic(t *testing.T) {
	fetcher := &test.MockFetcher{MarkReadCount: 2}
	svc, _ := setupService(0, fetcher)

	svc.Merge(engagement("e1", 1000))
	svc.Merge(engagement("e2", 2000))
	assert.Equal(t, 2, svc.Counters().ParentEngagements)

	svc.AcknowledgeParentEngagements(ctx)
	assert.Equal(t, 0, svc.Counters().ParentEngagements)

	// Server accepted, held items flip to read.
	assert.Eventually(t, func() bool {
		engs := svc.ParentEngagements()
		return len(engs) == 2 && engs[0].IsRead && engs[1].IsRead
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fetcher.MarkReadCalls())
}

func TestAcknowledgeParentEngagementsKeepsCounterOnServerFailure(t *testing.T) {
	fetcher := &test.MockFetcher{MarkReadErr: assert.AnError}
	svc, _ := setupService(0, fetcher)

	svc.Merge(engagement("e1", 1000))
	svc.AcknowledgeParentEngagements(ctx)

	assert.Eventually(t, func() bool { return fetcher.MarkReadCalls() == 1 }, time.Second, 5*time.Millisecond)
	// The user already saw the items: counter stays 0, items stay unread
	// until the next reconciliation.
	assert.Equal(t, 0, svc.Counters().ParentEngagements)
	assert.False(t, svc.ParentEngagements()[0].IsRead)
}

// stallingFetcher parks MarkParentEngagementsRead until released,
// simulating a slow or hung server.
type stallingFetcher struct {
	test.MockFetcher
	release chan struct{}
}

func (sf *stallingFetcher) MarkParentEngagementsRead(ctx context.Context) (int, error) {
	<-sf.release
	return 0, nil
}

func TestAcknowledgeNeverBlocksIngestion(t *testing.T) {
	fetcher := &stallingFetcher{release: make(chan struct{})}
	defer close(fetcher.release)
	repo := &test.MockWatermark{}
	svc := NewService(ctx, repo, fetcher, logger)

	svc.Merge(engagement("e1", 1000))
	svc.AcknowledgeParentEngagements(ctx)
	assert.Equal(t, 0, svc.Counters().ParentEngagements)

	// The server call is still parked; live events must keep flowing.
	merged := make(chan struct{})
	go func() {
		svc.Merge(announcement("a1", "Trials", 2000))
		close(merged)
	}()
	select {
	case <-merged:
	case <-time.After(time.Second):
		t.Fatal("merge blocked behind an in-flight server call")
	}
	assert.Equal(t, 1, svc.Counters().Announcements)
}

func TestResetFeedbackUnread(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(entity.FeedbackItem{ID: "f1", CoachRef: "c1", Text: "nice cover drive", CreatedAt: 1000})
	svc.Merge(entity.FeedbackItem{ID: "f1", CoachRef: "c1", Text: "nice cover drive", CreatedAt: 1000})
	assert.Equal(t, 1, svc.Counters().Feedback)

	svc.ResetFeedbackUnread()
	assert.Equal(t, 0, svc.Counters().Feedback)
	// The feed itself is untouched, only the counter resets.
	assert.Len(t, svc.Feedback(), 1)
}

func TestRefreshReconcilesAllCategories(t *testing.T) {
	fetcher := &test.MockFetcher{
		Announcements: []entity.Announcement{announcement("a1", "Trials", 1000)},
		FeedbackCount: 3,
		Engagements:   []entity.ParentEngagement{engagement("e1", 1000)},
	}
	svc, _ := setupService(0, fetcher)

	var toasts []entity.Toast
	unsub := svc.OnToast(func(toast entity.Toast) { toasts = append(toasts, toast) })
	defer unsub()

	svc.Refresh(ctx)

	assert.Len(t, svc.Announcements(), 1)
	assert.Equal(t, 1, svc.Counters().Announcements)
	assert.Equal(t, 3, svc.Counters().Feedback)
	assert.Equal(t, 1, svc.Counters().ParentEngagements)
	// Reconciliation never replays toasts.
	assert.Empty(t, toasts)
}

func TestRefreshFailureKeepsPriorState(t *testing.T) {
	fetcher := &test.MockFetcher{}
	svc, _ := setupService(0, fetcher)

	svc.Bootstrap(ctx, []entity.Announcement{announcement("a1", "Trials", 1000)})

	fetcher.AnnouncementsErr = assert.AnError
	fetcher.FeedbackCountErr = assert.AnError
	fetcher.EngagementsErr = assert.AnError
	svc.Refresh(ctx)

	assert.Len(t, svc.Announcements(), 1)
	assert.Equal(t, 1, svc.Counters().Announcements)
}

func TestToastDedupeByKey(t *testing.T) {
	svc, _ := setupService(0, nil)

	var toasts []entity.Toast
	unsub := svc.OnToast(func(toast entity.Toast) { toasts = append(toasts, toast) })
	defer unsub()

	svc.PublishToast(entity.Toast{DedupeKey: "k1", Title: "one"})
	svc.PublishToast(entity.Toast{DedupeKey: "k1", Title: "one again"})
	svc.PublishToast(entity.Toast{DedupeKey: "k2", Title: "two"})

	assert.Len(t, toasts, 2)
}

func TestChangeListenerUnsubscribe(t *testing.T) {
	svc, _ := setupService(0, nil)

	calls := 0
	unsub := svc.OnChange(func(entity.UnreadCounters) { calls++ })
	svc.Merge(announcement("a1", "Trials", 1000))
	assert.Equal(t, 1, calls)

	unsub()
	svc.Merge(announcement("a2", "Camp", 2000))
	assert.Equal(t, 1, calls)
}

func TestCloseDiscardsLateMutations(t *testing.T) {
	svc, _ := setupService(0, nil)

	svc.Merge(announcement("a1", "Trials", 1000))
	svc.Close()

	svc.Merge(announcement("a2", "Camp", 2000))
	assert.Len(t, svc.Announcements(), 1)
	assert.Equal(t, 1, svc.Counters().Announcements)
}
