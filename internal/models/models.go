package models

import "time"

// DateLayout is the wire format for calendar dates (start dates, event dates).
const DateLayout = "2006-01-02"

// Collection names in the document store.
const (
	CollectionPairs    = "pairs"
	CollectionMemories = "memories"
)

// Pair statuses.
const (
	PairStatusPending = "pending" // one participant, waiting for a partner
	PairStatusActive  = "active"  // both participants joined
)

// Change event types pushed by the document store.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Identity describes the currently signed-in user as reported by the
// auth boundary. A nil Identity means no live session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Pair is the shared session between exactly two people.
type Pair struct {
	ID         string   `json:"id"`
	InviteCode string   `json:"invite_code"`
	Users      []string `json:"users"`
	Status     string   `json:"status"`
	StartDate  string   `json:"start_date"`
	Version    int64    `json:"version"`
}

// HasUser reports whether userID is a participant of the pair.
func (p *Pair) HasUser(userID string) bool {
	for _, u := range p.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Memory is a single shared timeline item: a photo plus optional notes
// from each participant.
type Memory struct {
	ID               string `json:"id"`
	PairID           string `json:"pair_id"`
	Date             string `json:"date"`
	DayCount         int    `json:"day_count"`
	Content          string `json:"content,omitempty"`
	AuthorA          string `json:"author_a,omitempty"`
	NoteA            string `json:"note_a,omitempty"`
	AuthorB          string `json:"author_b,omitempty"`
	NoteB            string `json:"note_b,omitempty"`
	IsPrivate        bool   `json:"is_private"`
	LockedUntil      string `json:"locked_until,omitempty"`
	MilestoneReached bool   `json:"milestone_reached"`
	Version          int64  `json:"version"`
}

// Document is a versioned record in the document store. Fields is the
// raw payload; typed views are decoded by the consuming service.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Version    int64          `json:"version"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// User is a backend account. Accounts are anonymous: the token is the
// only credential, issued once at creation.
type User struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// ChangeEvent is a message pushed by the document store describing a
// remote mutation. It is consumed once and discarded.
type ChangeEvent struct {
	Collection string         `json:"collection"`
	DocumentID string         `json:"document_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// CustomEvent is a user-defined noteworthy date. Recurring events repeat
// every calendar year.
type CustomEvent struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	Type         string `json:"type,omitempty"`
	IsRecurring  bool   `json:"is_recurring,omitempty"`
	ReminderDays []int  `json:"reminder_days,omitempty"`
}

// Milestone types.
const (
	MilestoneSmall  = "small"
	MilestoneBig    = "big"
	MilestoneCustom = "custom"
)

// Milestone is a named day-count worth surfacing to the user.
type Milestone struct {
	Day         int    `json:"day"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Date        string `json:"date,omitempty"`
	EventType   string `json:"event_type,omitempty"`
}

// ParseDate parses a wire-format calendar date in the local time zone.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}
