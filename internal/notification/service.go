// Service layer of the notification aggregator in the SecondInning client.
// Folds the independent live-update streams (announcements, coach feedback,
// parent reactions) into per-category ordered feeds and unread counters
// with idempotent merging, and owns the persisted last-seen watermark.

package notification

import (
	"SecondInning/internal/entity"
	"SecondInning/pkg/log"
	"context"
	"sort"
	"sync"
)

// Fetcher is the REST collaborator surface the aggregator consumes for
// bootstrap fetches and server-side read receipts. Implemented externally.
type Fetcher interface {
	FetchAnnouncements(ctx context.Context) ([]entity.Announcement, error)
	FetchUnreadFeedbackCount(ctx context.Context) (int, error)
	FetchUnreadParentEngagements(ctx context.Context) ([]entity.ParentEngagement, error)
	// MarkParentEngagementsRead flips the server-side read state of every
	// unread engagement, returning how many were flipped.
	MarkParentEngagementsRead(ctx context.Context) (int, error)
}

// ChangeFunc observes unread counter changes.
type ChangeFunc func(entity.UnreadCounters)

// ToastFunc observes transient "new item" signals.
type ToastFunc func(entity.Toast)

// Service layer of internal package notification.
type Service interface {
	// Bootstrap replaces the announcement feed wholesale after a REST
	// fetch and recomputes the unread count against the watermark.
	Bootstrap(ctx context.Context, anns []entity.Announcement)
	// Merge performs an idempotent insert-or-update by id into the item's
	// feed. A genuinely new unread item bumps its counter and emits a
	// toast; redeliveries of the same id change nothing.
	Merge(item entity.NotificationItem)
	// Remove deletes an item; a counted-unread item decrements its
	// counter, floored at 0.
	Remove(category entity.Category, id string)
	// MarkAllAnnouncementsRead advances the persisted watermark to the
	// newest held announcement and zeroes the announcement counter.
	// No-op when the feed is empty; never moves the watermark backward.
	MarkAllAnnouncementsRead(ctx context.Context)
	// ResetFeedbackUnread zeroes the feedback counter locally only.
	ResetFeedbackUnread()
	// AcknowledgeParentEngagements zeroes the engagement counter locally,
	// then best-effort reports the read state to the server. A server
	// failure never rolls the local counter back.
	AcknowledgeParentEngagements(ctx context.Context)
	// Refresh re-runs the bootstrap fetches and re-merges, the periodic
	// reconciliation backup to live events.
	Refresh(ctx context.Context)

	Counters() entity.UnreadCounters
	Announcements() []entity.Announcement
	Feedback() []entity.FeedbackItem
	ParentEngagements() []entity.ParentEngagement

	// OnChange registers a listener for counter changes. The returned
	// handle must be called on consumer teardown.
	OnChange(listener ChangeFunc) func()
	// OnToast registers a listener for transient new-item signals.
	OnToast(listener ToastFunc) func()
	// PublishToast emits a transient signal, de-duplicated by key.
	PublishToast(toast entity.Toast)

	// Close marks the session over: late completions of in-flight work
	// are discarded instead of corrupting the next identity's state.
	Close()
}

// Object of this will be passed around from the session to consumers.
// Helps to access the service layer interface and call methods.
type service struct {
	repo    Repository
	fetcher Fetcher
	logger  log.Logger

	mu            sync.Mutex
	closed        bool
	watermark     int64
	announcements []entity.Announcement
	feedback      []entity.FeedbackItem
	engagements   []entity.ParentEngagement
	counters      entity.UnreadCounters
	toasted       map[string]struct{}
	changeSubs    map[int]ChangeFunc
	toastSubs     map[int]ToastFunc
	nextSub       int
}

// NewService loads the persisted watermark and returns a fresh aggregator.
// A failed watermark read degrades to 0, everything shows unread until the
// next MarkAllAnnouncementsRead.
func NewService(ctx context.Context, repo Repository, fetcher Fetcher, logger log.Logger) Service {
	watermark, wmerr := repo.GetWatermark(ctx, logger)
	if wmerr != nil {
		// Error occured in GetWatermark(), already logged there
		watermark = 0
	}
	return &service{
		repo:       repo,
		fetcher:    fetcher,
		logger:     logger,
		watermark:  watermark,
		toasted:    make(map[string]struct{}),
		changeSubs: make(map[int]ChangeFunc),
		toastSubs:  make(map[int]ToastFunc),
	}
}

func (s *service) Bootstrap(ctx context.Context, anns []entity.Announcement) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.announcements = append([]entity.Announcement(nil), anns...)
	sort.SliceStable(s.announcements, func(i, j int) bool {
		return s.announcements[i].CreatedAt > s.announcements[j].CreatedAt
	})
	s.counters.Announcements = s.unreadAnnouncementsLocked()
	notify := s.changeFanoutLocked()
	s.mu.Unlock()
	notify()
}

func (s *service) Merge(item entity.NotificationItem) {
	s.merge(item, false)
}

// merge is the single insert-or-update entry point. quiet suppresses the
// toast, used when reconciling items fetched by Refresh rather than pushed
// live.
func (s *service) merge(item entity.NotificationItem, quiet bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var isNew, unread bool
	switch it := item.(type) {
	case entity.Announcement:
		isNew = !containsID(s.announcements, it.ID)
		if !isNew {
			s.announcements, _, _ = removeByID(s.announcements, it.ID)
		}
		s.announcements = insertOrdered(s.announcements, it)
		s.counters.Announcements = s.unreadAnnouncementsLocked()
		unread = it.CreatedAt > s.watermark
	case entity.FeedbackItem:
		isNew = !containsID(s.feedback, it.ID)
		if !isNew {
			s.feedback, _, _ = removeByID(s.feedback, it.ID)
		}
		s.feedback = insertOrdered(s.feedback, it)
		unread = !it.IsRead
		if isNew && unread {
			s.counters.Feedback++
		}
	case entity.ParentEngagement:
		isNew = !containsID(s.engagements, it.ID)
		if !isNew {
			s.engagements, _, _ = removeByID(s.engagements, it.ID)
		}
		s.engagements = insertOrdered(s.engagements, it)
		unread = !it.IsRead
		if isNew && unread {
			s.counters.ParentEngagements++
		}
	default:
		s.mu.Unlock()
		s.logger.Error().Msgf("Unknown notification item type for id %s", item.NotificationID())
		return
	}

	notify := s.changeFanoutLocked()
	var toast func()
	if isNew && unread && !quiet {
		toast = s.toastFanoutLocked(toastFor(item))
	}
	s.mu.Unlock()

	notify()
	if toast != nil {
		toast()
	}
}

func (s *service) Remove(category entity.Category, id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch category {
	case entity.CategoryAnnouncement:
		s.announcements, _, _ = removeByID(s.announcements, id)
		s.counters.Announcements = s.unreadAnnouncementsLocked()
	case entity.CategoryFeedback:
		var removed entity.FeedbackItem
		var found bool
		s.feedback, removed, found = removeByID(s.feedback, id)
		if found && !removed.IsRead && s.counters.Feedback > 0 {
			s.counters.Feedback--
		}
	case entity.CategoryParentEngagement:
		var removed entity.ParentEngagement
		var found bool
		s.engagements, removed, found = removeByID(s.engagements, id)
		if found && !removed.IsRead && s.counters.ParentEngagements > 0 {
			s.counters.ParentEngagements--
		}
	}
	notify := s.changeFanoutLocked()
	s.mu.Unlock()
	notify()
}

func (s *service) MarkAllAnnouncementsRead(ctx context.Context) {
	s.mu.Lock()
	if s.closed || len(s.announcements) == 0 {
		s.mu.Unlock()
		return
	}
	for _, ann := range s.announcements {
		if ann.CreatedAt > s.watermark {
			s.watermark = ann.CreatedAt
		}
	}
	watermark := s.watermark
	s.counters.Announcements = 0
	notify := s.changeFanoutLocked()
	s.mu.Unlock()
	notify()

	// Persisting off the mutation path, a slow store write must not delay
	// events arriving behind this call.
	go func() {
		// Last-write-wins; failures are logged by the repository and the
		// local zeroed counter stands.
		_ = s.repo.SetWatermark(ctx, s.logger, watermark)
	}()
}

func (s *service) ResetFeedbackUnread() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.counters.Feedback = 0
	notify := s.changeFanoutLocked()
	s.mu.Unlock()
	notify()
}

func (s *service) AcknowledgeParentEngagements(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.counters.ParentEngagements = 0
	notify := s.changeFanoutLocked()
	s.mu.Unlock()
	notify()

	// Optimistic local-first read state: the user has already seen the
	// items, so a failing server call never rolls the counter back.
	go func() {
		count, ackerr := s.fetcher.MarkParentEngagementsRead(ctx)
		if ackerr != nil {
			s.logger.Error().Err(ackerr).Msg("Couldn't mark parent engagements read on the server")
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		for i := range s.engagements {
			s.engagements[i].IsRead = true
		}
		late := s.changeFanoutLocked()
		s.mu.Unlock()
		late()
		s.logger.Info().Msgf("Marked %d parent engagements read on the server", count)
	}()
}

func (s *service) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	anns, fetcherr := s.fetcher.FetchAnnouncements(ctx)
	if fetcherr != nil {
		// No change, the feed keeps its prior state.
		s.logger.Warn().Err(fetcherr).Msg("Announcement refresh failed, keeping prior state")
	} else {
		s.Bootstrap(ctx, anns)
	}

	count, fetcherr := s.fetcher.FetchUnreadFeedbackCount(ctx)
	if fetcherr != nil {
		s.logger.Warn().Err(fetcherr).Msg("Feedback unread refresh failed, keeping prior state")
	} else {
		s.mu.Lock()
		if !s.closed {
			s.counters.Feedback = count
		}
		notify := s.changeFanoutLocked()
		s.mu.Unlock()
		notify()
	}

	engs, fetcherr := s.fetcher.FetchUnreadParentEngagements(ctx)
	if fetcherr != nil {
		s.logger.Warn().Err(fetcherr).Msg("Parent engagement refresh failed, keeping prior state")
		return
	}
	for _, eng := range engs {
		// Quiet merges, reconciliation must not replay toasts.
		s.merge(eng, true)
	}
}

func (s *service) Counters() entity.UnreadCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *service) Announcements() []entity.Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Announcement(nil), s.announcements...)
}

func (s *service) Feedback() []entity.FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.FeedbackItem(nil), s.feedback...)
}

func (s *service) ParentEngagements() []entity.ParentEngagement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.ParentEngagement(nil), s.engagements...)
}

func (s *service) OnChange(listener ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.changeSubs[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.changeSubs, id)
	}
}

func (s *service) OnToast(listener ToastFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.toastSubs[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.toastSubs, id)
	}
}

func (s *service) PublishToast(toast entity.Toast) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fanout := s.toastFanoutLocked(toast)
	s.mu.Unlock()
	if fanout != nil {
		fanout()
	}
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// unreadAnnouncementsLocked derives the announcement counter from the feed
// and the watermark, the source of truth for that category.
func (s *service) unreadAnnouncementsLocked() int {
	unread := 0
	for _, ann := range s.announcements {
		if ann.CreatedAt > s.watermark {
			unread++
		}
	}
	return unread
}

// changeFanoutLocked snapshots counters and listeners; invoke the returned
// closure after s.mu is released.
func (s *service) changeFanoutLocked() func() {
	counters := s.counters
	subs := make([]ChangeFunc, 0, len(s.changeSubs))
	for _, f := range s.changeSubs {
		subs = append(subs, f)
	}
	return func() {
		for _, f := range subs {
			f(counters)
		}
	}
}

// toastFanoutLocked de-duplicates by key and snapshots toast listeners.
// Returns nil when the key has already been toasted.
func (s *service) toastFanoutLocked(toast entity.Toast) func() {
	if _, seen := s.toasted[toast.DedupeKey]; seen {
		return nil
	}
	s.toasted[toast.DedupeKey] = struct{}{}
	subs := make([]ToastFunc, 0, len(s.toastSubs))
	for _, f := range s.toastSubs {
		subs = append(subs, f)
	}
	return func() {
		for _, f := range subs {
			f(toast)
		}
	}
}

// toastFor builds the transient signal carried to UI consumers for a
// freshly merged unread item.
func toastFor(item entity.NotificationItem) entity.Toast {
	toast := entity.Toast{
		DedupeKey: string(item.NotificationCategory()) + ":" + item.NotificationID(),
		Category:  item.NotificationCategory(),
	}
	switch it := item.(type) {
	case entity.Announcement:
		toast.Title = it.Title
		toast.Message = it.Content
	case entity.FeedbackItem:
		toast.Title = "New coach feedback"
		toast.Message = it.Text
	case entity.ParentEngagement:
		toast.Title = "New parent reaction"
		toast.Message = it.ReactionType
	}
	return toast
}
