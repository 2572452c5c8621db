package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
)

// SecondarySuffix is appended to the meeting title for secondary processing results
const SecondarySuffix = " - Secondary Processing"

// dateTimeLayout renders meeting start times for people
const dateTimeLayout = "1/2/2006, 3:04:05 PM"

// Notification describes a processed meeting
type Notification struct {
	EventID         string               `json:"eventId"`
	MeetingID       string               `json:"meetingId"`
	MeetingTitle    string               `json:"meetingTitle"`
	MeetingDateTime string               `json:"meetingDateTime"`
	ActionItems     []meeting.ActionItem `json:"actionItems"`
	Summary         string               `json:"summary"`
	IsSecondary     bool                 `json:"isSecondary"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// New builds a notification for rec
func New(rec *meeting.Record, summary string, items []meeting.ActionItem, secondary bool) Notification {
	title := rec.Title
	if secondary {
		title += SecondarySuffix
	}

	var when string
	if rec.Date != nil {
		when = rec.Date.Local().Format(dateTimeLayout)
	}

	if items == nil {
		items = []meeting.ActionItem{}
	}

	return Notification{
		EventID:         uuid.New().String(),
		MeetingID:       rec.ID,
		MeetingTitle:    title,
		MeetingDateTime: when,
		ActionItems:     items,
		Summary:         summary,
		IsSecondary:     secondary,
		CreatedAt:       time.Now().UTC(),
	}
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to several notifiers and joins their errors
type Multi []Notifier

// Notify calls every notifier, even after one fails
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, Notification) error { return nil }
