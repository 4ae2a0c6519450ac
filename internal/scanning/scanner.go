package scanning

import "context"

// Candidate is one expense as read by a model, before sanitization.
// Amount and Tags are left loosely typed because models return numbers,
// numeric strings and the occasional null interchangeably.
type Candidate struct {
	Description string `json:"description"`
	Amount      any    `json:"amount"`
	Category    string `json:"category"`
	Date        string `json:"date"` // ISO 8601 when present
	Tags        any    `json:"tags"`
	Account     string `json:"account"`
}

// Scanner defines the interface for expense inference backends
type Scanner interface {
	// ScanExpenses analyzes a receipt image/PDF and returns zero or more expenses
	ScanExpenses(ctx context.Context, data []byte, mimeType string) ([]Candidate, error)
	// ScanVoice transcribes a spoken expense into a single candidate
	ScanVoice(ctx context.Context, audio []byte, mimeType string) (*Candidate, error)
	// Close closes the scanner and releases resources
	Close() error
}
