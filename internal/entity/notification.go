// Structure of the notification feed models in the SecondInning client.

package entity

import "strconv"

// Category names one of the live-update feeds held by the aggregator.
type Category string

const (
	CategoryAnnouncement     Category = "announcement"
	CategoryFeedback         Category = "feedback"
	CategoryParentEngagement Category = "parent_engagement"
	// CategoryAchievement only ever appears on toasts, achievements are
	// never stored in a feed.
	CategoryAchievement Category = "achievement"
)

// NotificationItem is the normalized form of any server-pushed feed entry.
// The stable ID is the de-duplication key, OccurredAt the descending sort key.
type NotificationItem interface {
	NotificationID() string
	NotificationCategory() Category
	// OccurredAt returns the creation time in epoch millis.
	OccurredAt() int64
}

// Announcement pushed to every player of an academy.
type Announcement struct {
	ID        string `json:"_id" valid:"required"`
	Title     string `json:"title" valid:"required"`
	Content   string `json:"content" valid:"required"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"`
	StartDate int64  `json:"startDate,omitempty"`
	EndDate   int64  `json:"endDate,omitempty"`
	Location  string `json:"location,omitempty"`
}

func (a Announcement) NotificationID() string         { return a.ID }
func (a Announcement) NotificationCategory() Category { return CategoryAnnouncement }
func (a Announcement) OccurredAt() int64              { return a.CreatedAt }

// FeedbackItem left by a coach on a player's performance.
type FeedbackItem struct {
	ID        string `json:"_id" valid:"required"`
	CoachRef  string `json:"coach" valid:"required"`
	Category  string `json:"category"`
	Text      string `json:"text" valid:"required"`
	IsRead    bool   `json:"isRead"`
	CreatedAt int64  `json:"createdAt"`
}

func (f FeedbackItem) NotificationID() string         { return f.ID }
func (f FeedbackItem) NotificationCategory() Category { return CategoryFeedback }
func (f FeedbackItem) OccurredAt() int64              { return f.CreatedAt }

// ParentEngagement is a reaction a parent sent on a player's media.
type ParentEngagement struct {
	ID           string `json:"_id" valid:"required"`
	ParentRef    string `json:"parent" valid:"required"`
	ReactionType string `json:"reactionType" valid:"required,reaction_custom"`
	IsRead       bool   `json:"isRead"`
	CreatedAt    int64  `json:"createdAt"`
}

func (p ParentEngagement) NotificationID() string         { return p.ID }
func (p ParentEngagement) NotificationCategory() Category { return CategoryParentEngagement }
func (p ParentEngagement) OccurredAt() int64              { return p.CreatedAt }

// UnreadCounters holds the per-category unread totals shown on UI badges.
type UnreadCounters struct {
	Announcements     int `json:"announcements"`
	Feedback          int `json:"feedback"`
	ParentEngagements int `json:"parentEngagements"`
}

// Total sums the per-category counters.
func (u UnreadCounters) Total() int {
	return u.Announcements + u.Feedback + u.ParentEngagements
}

// DisplayTotal renders the total for a badge, capped at "9+".
// The cap is display only, stored counters are never clamped.
func (u UnreadCounters) DisplayTotal() string {
	total := u.Total()
	if total > 9 {
		return "9+"
	}
	return strconv.Itoa(total)
}

// Toast is a transient "new item" signal carried to UI consumers.
// It never enters the persisted notification model.
type Toast struct {
	// DedupeKey guards against repeated deliveries of the same item
	// producing duplicate toasts.
	DedupeKey string
	Category  Category
	Title     string
	Message   string
}
