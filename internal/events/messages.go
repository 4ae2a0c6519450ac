package events

import (
	"encoding/json"
	"time"
)

// ExpenseCreated announces a confirmed expense. It carries only what a
// consumer needs to decide whether to fetch the full record.
type ExpenseCreated struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"` // cents
	Category  string    `json:"category"`
	Date      string    `json:"date"`
	Account   string    `json:"account,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseCreated) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseCreatedFromJSON creates a message from JSON bytes
func ExpenseCreatedFromJSON(data []byte) (*ExpenseCreated, error) {
	var msg ExpenseCreated
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
