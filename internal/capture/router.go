package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NoticeLevel is the severity of a user-facing notice
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a non-blocking message for the user
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	ItemID  string      `json:"item_id,omitempty"`
	At      time.Time   `json:"at"`
}

// Presenter is the user-facing surface: the single expense editor, the
// multi expense review list and the notice area.
type Presenter interface {
	ShowDraft(itemID string, draft Draft)
	ShowReview(itemID string, drafts []Draft)
	Notify(n Notice)
}

// ExpenseCreator stores confirmed expenses
type ExpenseCreator interface {
	CreateExpense(ctx context.Context, draft Draft) error
}

// Router maps analysis outcomes and errors onto the presenter
type Router struct {
	presenter Presenter
	clock     TimeSource
}

// NewRouter creates a Router
func NewRouter(presenter Presenter, clock TimeSource) *Router {
	if clock == nil {
		clock = systemClock{}
	}
	return &Router{presenter: presenter, clock: clock}
}

// Route presents an outcome. It reports whether the outcome now waits for
// user confirmation.
func (r *Router) Route(outcome Outcome) bool {
	switch outcome.Kind {
	case SingleExpense:
		draft, _ := outcome.Draft()
		r.presenter.ShowDraft(outcome.ItemID, draft)
		return true
	case MultipleExpenses:
		r.presenter.ShowReview(outcome.ItemID, outcome.Drafts)
		return true
	case NoExpenseFound:
		r.Info(outcome.ItemID, "No expense found in this capture.")
	case Failed:
		r.Error(outcome.ItemID, outcome.Reason)
	}
	return false
}

// Info posts an informational notice
func (r *Router) Info(itemID, message string) {
	r.presenter.Notify(Notice{Level: NoticeInfo, Message: message, ItemID: itemID, At: r.clock.Now()})
}

// Error posts an error notice worded for the error's kind
func (r *Router) Error(itemID string, err error) {
	r.presenter.Notify(Notice{Level: NoticeError, Message: NoticeMessage(err), ItemID: itemID, At: r.clock.Now()})
}

// NoticeMessage words an error for the user
func NoticeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOffline):
		return "You are offline. Reconnect to analyze this capture; it stays in the queue."
	case errors.Is(err, ErrDecode):
		return "The file could not be read. Try another photo or file."
	case errors.Is(err, ErrStorage):
		return "The capture could not be saved on this device."
	case errors.Is(err, ErrInference):
		return "Analysis failed. The capture is still in the queue, try again later."
	case errors.Is(err, ErrAnalysisInProgress):
		return "This capture is already being analyzed."
	case errors.Is(err, ErrNotFound):
		return "This capture is no longer in the queue."
	case errors.Is(err, ErrNoSharedItem):
		return "No shared file was found."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
