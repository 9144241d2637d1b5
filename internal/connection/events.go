// Wire contract of the SecondInning realtime transport.
// The event names below are the stable public contract with the server.

package connection

import "encoding/json"

// Client -> Server events.
const (
	EventJoin                 = "join"
	EventGetMyRooms           = "get_my_rooms"
	EventNotificationReceived = "notification_received"
	EventTestNotification     = "test_notification"
)

// Server -> Client events.
const (
	EventWelcome             = "welcome"
	EventJoined              = "joined"
	EventYourRooms           = "your_rooms"
	EventNewAnnouncement     = "new-announcement"
	EventUpdateAnnouncement  = "update-announcement"
	EventDeleteAnnouncement  = "delete-announcement"
	EventNewFeedback         = "new-feedback"
	EventNewParentEngagement = "new_parent_engagement"
	EventStatsUpdated        = "stats_updated"
	EventAchievementUnlocked = "achievement_unlocked"
)

// Envelope is the JSON frame exchanged on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Acknowledgment sent back to the server for every stored delivery.
type ReceivedAck struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
