// Package ledger stores confirmed expenses, their receipt files and the
// account catalog.
package ledger

import "time"

// Expense is a confirmed expense
type Expense struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"` // Amount in cents
	Category    string    `json:"category"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Tags        []string  `json:"tags"`
	Account     string    `json:"account,omitempty"`
	Receipts    []string  `json:"receipts"` // file names in receipt storage
	CreatedAt   time.Time `json:"created_at"`
}
