// Service layer of event ingestion in the SecondInning client.
// Attaches category listeners to the live connection, validates and
// normalizes every payload and forwards well-formed items into the
// notification aggregator. Malformed payloads are logged and dropped,
// never propagated as a crash.

package ingest

import (
	"SecondInning/internal/connection"
	"SecondInning/internal/entity"
	"SecondInning/internal/errors"
	"SecondInning/pkg/log"
	"encoding/json"
	"time"

	"github.com/asaskevich/govalidator"
)

// Aggregator is the merge surface ingestion forwards normalized items into.
type Aggregator interface {
	Merge(item entity.NotificationItem)
	Remove(category entity.Category, id string)
	PublishToast(toast entity.Toast)
}

// Source is the transport surface ingestion attaches listeners to.
// Satisfied by connection.Manager.
type Source interface {
	OnEvent(event string, handler func(data json.RawMessage)) func()
	Emit(event string, payload interface{}) error
}

// ErrorSink receives malformed-payload reports for error reporting.
type ErrorSink func(event string, err error)

// Service layer of internal package ingest.
type Service interface {
	// Start attaches all category listeners to the source and returns an
	// unsubscribe releasing exactly the listeners it added. Must be called
	// at most once per connect cycle to avoid duplicate handlers.
	Start(source Source) func()
}

// Object of this will be passed around from the session to consumers.
// Helps to access the service layer interface and call methods.
type service struct {
	agg            Aggregator
	who            entity.Identity
	onStatsRefresh func()
	sink           ErrorSink
	logger         log.Logger
}

func NewService(agg Aggregator, who entity.Identity, onStatsRefresh func(), sink ErrorSink, logger log.Logger) Service {
	return service{agg, who, onStatsRefresh, sink, logger}
}

func (s service) Start(source Source) func() {
	unsubs := []func(){
		source.OnEvent(connection.EventNewAnnouncement, s.announcementHandler(source, connection.EventNewAnnouncement)),
		source.OnEvent(connection.EventUpdateAnnouncement, s.announcementHandler(source, connection.EventUpdateAnnouncement)),
		source.OnEvent(connection.EventDeleteAnnouncement, s.deleteAnnouncementHandler),
		source.OnEvent(connection.EventStatsUpdated, s.statsUpdatedHandler),
		source.OnEvent(connection.EventAchievementUnlocked, s.achievementHandler),
	}
	if s.who.Role == entity.RolePlayer {
		// Coach feedback and parent reactions only ever target players.
		unsubs = append(unsubs,
			source.OnEvent(connection.EventNewFeedback, s.feedbackHandler(source)),
			source.OnEvent(connection.EventNewParentEngagement, s.parentEngagementHandler(source)),
		)
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (s service) announcementHandler(source Source, event string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ann entity.Announcement
		if dropped := s.decode(event, data, &ann); dropped {
			return
		}
		s.agg.Merge(ann)
		s.acknowledge(source, string(entity.CategoryAnnouncement), ann.ID)
	}
}

func (s service) deleteAnnouncementHandler(data json.RawMessage) {
	var payload struct {
		ID string `json:"id"`
	}
	if jsonerr := json.Unmarshal(data, &payload); jsonerr != nil || payload.ID == "" {
		s.drop(connection.EventDeleteAnnouncement, errors.MalformedEvent("Delete event missing announcement id.", jsonerr))
		return
	}
	s.agg.Remove(entity.CategoryAnnouncement, payload.ID)
}

func (s service) feedbackHandler(source Source) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var fb entity.FeedbackItem
		if dropped := s.decode(connection.EventNewFeedback, data, &fb); dropped {
			return
		}
		s.agg.Merge(fb)
		s.acknowledge(source, string(entity.CategoryFeedback), fb.ID)
	}
}

func (s service) parentEngagementHandler(source Source) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var payload struct {
			Engagement entity.ParentEngagement `json:"engagement"`
			Message    string                  `json:"message"`
		}
		if jsonerr := json.Unmarshal(data, &payload); jsonerr != nil {
			s.drop(connection.EventNewParentEngagement, errors.MalformedEvent("", jsonerr))
			return
		}
		if dropped := s.validate(connection.EventNewParentEngagement, payload.Engagement, payload.Engagement.CreatedAt); dropped {
			return
		}
		s.agg.Merge(payload.Engagement)
		s.acknowledge(source, string(entity.CategoryParentEngagement), payload.Engagement.ID)
	}
}

func (s service) statsUpdatedHandler(json.RawMessage) {
	// Pure refresh signal, nothing is stored.
	if s.onStatsRefresh != nil {
		s.onStatsRefresh()
	}
}

func (s service) achievementHandler(data json.RawMessage) {
	var payload struct {
		Title string `json:"title"`
	}
	if jsonerr := json.Unmarshal(data, &payload); jsonerr != nil || payload.Title == "" {
		s.drop(connection.EventAchievementUnlocked, errors.MalformedEvent("Achievement event missing title.", jsonerr))
		return
	}
	// Toast-only signal, achievements never enter the stored feeds.
	s.agg.PublishToast(entity.Toast{
		DedupeKey: "achievement:" + payload.Title,
		Category:  entity.CategoryAchievement,
		Title:     "Achievement unlocked!",
		Message:   payload.Title,
	})
}

// decode unmarshals and validates an event payload in one go.
// Returns true if the event was dropped.
func (s service) decode(event string, data json.RawMessage, out entity.NotificationItem) bool {
	if jsonerr := json.Unmarshal(data, out); jsonerr != nil {
		s.drop(event, errors.MalformedEvent("", jsonerr))
		return true
	}
	return s.validate(event, out, out.OccurredAt())
}

// validate runs govalidator struct checks plus the timestamp sanity check.
// Returns true if the event was dropped.
func (s service) validate(event string, item interface{}, createdAt int64) bool {
	if _, valerr := govalidator.ValidateStruct(item); valerr != nil {
		s.drop(event, errors.MalformedEvent("", valerr))
		return true
	}
	if createdAt <= 0 {
		s.drop(event, errors.MalformedEvent("Event payload carries no createdAt timestamp.", nil))
		return true
	}
	return false
}

func (s service) drop(event string, err error) {
	s.logger.Warn().Err(err).Msgf("Dropping malformed %s event", event)
	if s.sink != nil {
		s.sink(event, err)
	}
}

// acknowledge reports a stored delivery back to the server. Best effort,
// a failed ack never blocks or fails ingestion.
func (s service) acknowledge(source Source, category, id string) {
	ack := connection.ReceivedAck{
		Type:      category,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	}
	if ackerr := source.Emit(connection.EventNotificationReceived, ack); ackerr != nil {
		s.logger.Debug().Err(ackerr).Msgf("Couldn't acknowledge %s %s", category, id)
	}
}
