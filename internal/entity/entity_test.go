// Entity tests in the SecondInning client.

package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestUnreadCountersBadge(t *testing.T) {
	assert.Equal(t, "0", UnreadCounters{}.DisplayTotal())
	assert.Equal(t, "2", UnreadCounters{Feedback: 2}.DisplayTotal())
	assert.Equal(t, "9", UnreadCounters{Announcements: 4, Feedback: 5}.DisplayTotal())
	assert.Equal(t, "9+", UnreadCounters{Announcements: 4, Feedback: 3, ParentEngagements: 3}.DisplayTotal())
}

func TestNotificationItemCategories(t *testing.T) {
	assert.Equal(t, CategoryAnnouncement, Announcement{ID: "a1"}.NotificationCategory())
	assert.Equal(t, CategoryFeedback, FeedbackItem{ID: "f1"}.NotificationCategory())
	assert.Equal(t, CategoryParentEngagement, ParentEngagement{ID: "e1"}.NotificationCategory())
}
