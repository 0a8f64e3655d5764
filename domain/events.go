package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityType names an activity log entry.
type ActivityType string

const (
	CardCreatedActivity       ActivityType = "card_created"
	CardMovedActivity         ActivityType = "card_moved"
	CardUpdatedActivity       ActivityType = "card_updated"
	CardDeletedActivity       ActivityType = "card_deleted"
	CommentAddedActivity      ActivityType = "comment_added"
	AssignmentChangedActivity ActivityType = "assignment_changed"
)

// ActivityDetails is the payload of an activity. Each ActivityType has exactly
// one concrete details type.
type ActivityDetails interface {
	ActivityType() ActivityType
}

type CardCreated struct {
	Title    string `json:"title"`
	ColumnID string `json:"columnId"`
	Order    int    `json:"order"`
}

type CardMoved struct {
	FromColumn string `json:"fromColumn"`
	ToColumn   string `json:"toColumn"`
	FromOrder  int    `json:"fromOrder"`
	ToOrder    int    `json:"toOrder"`
}

// FieldChange records one changed card field, formatted as text.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

type CardUpdated struct {
	Changes []FieldChange `json:"changes"`
}

type CardDeleted struct {
	Title    string `json:"title"`
	ColumnID string `json:"columnId"`
	// Cascade is set when the card was removed with its column.
	Cascade bool `json:"cascade,omitempty"`
}

type CommentAdded struct {
	CommentID string `json:"commentId"`
	Text      string `json:"text"`
}

type AssignmentChanged struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

func (CardCreated) ActivityType() ActivityType       { return CardCreatedActivity }
func (CardMoved) ActivityType() ActivityType         { return CardMovedActivity }
func (CardUpdated) ActivityType() ActivityType       { return CardUpdatedActivity }
func (CardDeleted) ActivityType() ActivityType       { return CardDeletedActivity }
func (CommentAdded) ActivityType() ActivityType      { return CommentAddedActivity }
func (AssignmentChanged) ActivityType() ActivityType { return AssignmentChangedActivity }

// Activity is a structured description of a board change sent to the activity log.
type Activity struct {
	ID        string
	ProjectID string
	BoardID   string
	CardID    string
	UserID    string
	Details   ActivityDetails
	At        time.Time
}

// Type returns the activity type carried by the details.
func (a Activity) Type() ActivityType {
	if a.Details == nil {
		return ""
	}
	return a.Details.ActivityType()
}

type activityWire struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	BoardID   string          `json:"boardId"`
	CardID    string          `json:"cardId,omitempty"`
	UserID    string          `json:"userId"`
	Type      ActivityType    `json:"type"`
	Details   json.RawMessage `json:"details"`
	At        time.Time       `json:"at"`
}

func (a Activity) MarshalJSON() ([]byte, error) {
	if a.Details == nil {
		return nil, fmt.Errorf("activity %s has no details", a.ID)
	}
	details, err := json.Marshal(a.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(activityWire{
		ID:        a.ID,
		ProjectID: a.ProjectID,
		BoardID:   a.BoardID,
		CardID:    a.CardID,
		UserID:    a.UserID,
		Type:      a.Type(),
		Details:   details,
		At:        a.At,
	})
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var w activityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var details ActivityDetails
	switch w.Type {
	case CardCreatedActivity:
		details = &CardCreated{}
	case CardMovedActivity:
		details = &CardMoved{}
	case CardUpdatedActivity:
		details = &CardUpdated{}
	case CardDeletedActivity:
		details = &CardDeleted{}
	case CommentAddedActivity:
		details = &CommentAdded{}
	case AssignmentChangedActivity:
		details = &AssignmentChanged{}
	default:
		return fmt.Errorf("unknown activity type %q", w.Type)
	}
	if len(w.Details) > 0 {
		if err := json.Unmarshal(w.Details, details); err != nil {
			return fmt.Errorf("decode %s details: %w", w.Type, err)
		}
	}
	*a = Activity{
		ID:        w.ID,
		ProjectID: w.ProjectID,
		BoardID:   w.BoardID,
		CardID:    w.CardID,
		UserID:    w.UserID,
		Details:   deref(details),
		At:        w.At,
	}
	return nil
}

// deref turns the pointer used for decoding back into the value form the
// rest of the code constructs, so type switches see one shape.
func deref(d ActivityDetails) ActivityDetails {
	switch v := d.(type) {
	case *CardCreated:
		return *v
	case *CardMoved:
		return *v
	case *CardUpdated:
		return *v
	case *CardDeleted:
		return *v
	case *CommentAdded:
		return *v
	case *AssignmentChanged:
		return *v
	}
	return d
}

// NotificationType names a user notification.
type NotificationType string

const (
	CardAssignedNotification NotificationType = "card_assigned"
	CardSharedNotification   NotificationType = "card_shared"
)

// CardRef identifies the card a notification is about.
type CardRef struct {
	ProjectID string `json:"projectId"`
	BoardID   string `json:"boardId"`
	CardID    string `json:"cardId"`
	ActorID   string `json:"actorId"`
}

// Notification is a targeted message for a single user.
type Notification struct {
	UserID  string           `json:"userId"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Data    CardRef          `json:"data"`
}

// Effects collects the side effects of one command. They are released only
// after the board they describe has been persisted.
type Effects struct {
	Activities    []Activity
	Notifications []Notification
}

// Empty reports whether there is nothing to dispatch.
func (fx *Effects) Empty() bool {
	return fx == nil || (len(fx.Activities) == 0 && len(fx.Notifications) == 0)
}

func (fx *Effects) record(a Activity) {
	if fx == nil {
		return
	}
	fx.Activities = append(fx.Activities, a)
}

func (fx *Effects) notify(n Notification) {
	if fx == nil {
		return
	}
	fx.Notifications = append(fx.Notifications, n)
}
