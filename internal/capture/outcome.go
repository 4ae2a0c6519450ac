package capture

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind classifies an analysis result
type OutcomeKind int

const (
	NoExpenseFound OutcomeKind = iota
	SingleExpense
	MultipleExpenses
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoExpenseFound:
		return "no_expense_found"
	case SingleExpense:
		return "single_expense"
	case MultipleExpenses:
		return "multiple_expenses"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind by name
func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name
func (k *OutcomeKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, kind := range []OutcomeKind{NoExpenseFound, SingleExpense, MultipleExpenses, Failed} {
		if kind.String() == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind: %q", name)
}

// Outcome is what analysis of one item produced
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	ItemID string      `json:"item_id"`
	Drafts []Draft     `json:"drafts,omitempty"`
	Reason error       `json:"-"`
}

// Consumed reports whether the outcome removed its item from the queue
func (o Outcome) Consumed() bool {
	return o.Kind != Failed
}

// Draft returns the single draft of a SingleExpense outcome
func (o Outcome) Draft() (Draft, bool) {
	if o.Kind != SingleExpense || len(o.Drafts) != 1 {
		return Draft{}, false
	}
	return o.Drafts[0], true
}
