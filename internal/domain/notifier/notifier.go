package notifier

import (
	"context"
	"time"
)

// ActivityKind distinguishes the activities the workflow schedules
type ActivityKind string

const (
	ActivityToDo    ActivityKind = "todo"
	ActivityWarning ActivityKind = "warning"
)

// Activity is a to-do scheduled for one user on a record
type Activity struct {
	ResModel string       `json:"res_model"`
	ResID    string       `json:"res_id"`
	User     string       `json:"user"`
	Kind     ActivityKind `json:"kind"`
	Summary  string       `json:"summary"`
	Note     string       `json:"note"`
	Deadline time.Time    `json:"deadline"`
}

// Message is an internal inbox message posted on a record
type Message struct {
	ResModel   string   `json:"res_model"`
	ResID      string   `json:"res_id"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Notifier delivers workflow activities and messages. Implementations must
// never send email for internal messages.
type Notifier interface {
	NotifyToDo(ctx context.Context, activity Activity) error
	NotifyMessage(ctx context.Context, msg Message) error
	// CancelPending deletes the pending activities of users on a record.
	// An empty users list cancels every pending activity on the record.
	CancelPending(ctx context.Context, resModel, resID string, users []string) error
}
