package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/expense-capture/internal/scanning"
)

// Account is an entry in the account catalog
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountCatalog lists configured accounts; the first one is the default
type AccountCatalog interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}

// Resolver runs inference for one item and turns the result into an
// Outcome. Items are removed from the queue once consumed and are always
// left in (or put back into) the queue when analysis fails.
type Resolver struct {
	queue      Queue
	gate       *Gate
	feed       *Feed
	scanner    scanning.Scanner
	accounts   AccountCatalog
	categories []string
	clock      TimeSource
	logger     *slog.Logger
}

// NewResolver creates a Resolver using the system clock
func NewResolver(queue Queue, gate *Gate, feed *Feed, scanner scanning.Scanner, accounts AccountCatalog, categories []string, logger *slog.Logger) *Resolver {
	return NewResolverWithDeps(queue, gate, feed, scanner, accounts, categories, systemClock{}, logger)
}

// NewResolverWithDeps creates a Resolver with custom dependencies for testing
func NewResolverWithDeps(queue Queue, gate *Gate, feed *Feed, scanner scanning.Scanner, accounts AccountCatalog, categories []string, clock TimeSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &Resolver{
		queue:      queue,
		gate:       gate,
		feed:       feed,
		scanner:    scanner,
		accounts:   accounts,
		categories: categories,
		clock:      clock,
		logger:     logger.With("component", "resolver"),
	}
}

// Analyze resolves item. ErrOffline is returned, without touching the
// item or calling the backend, when the gate reports offline. Every other
// failure is reported as a Failed outcome.
func (r *Resolver) Analyze(ctx context.Context, item *Item) (Outcome, error) {
	if !r.gate.Online() {
		return Outcome{}, ErrOffline
	}

	data, err := item.Bytes()
	if err != nil {
		return r.fail(ctx, item, fmt.Errorf("%w: %w", ErrDecode, err)), nil
	}

	candidates, err := r.scan(ctx, data, item.MimeType)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to scan capture",
			"id", item.ID,
			"mime_type", item.MimeType,
			"file_size", len(data),
			"error", err,
		)
		return r.fail(ctx, item, err), nil
	}

	outcome := Outcome{ItemID: item.ID}
	switch len(candidates) {
	case 0:
		outcome.Kind = NoExpenseFound
	case 1:
		outcome.Kind = SingleExpense
		policy := r.policy(ctx, []Receipt{{Payload: item.Payload, MimeType: item.MimeType}})
		outcome.Drafts = []Draft{Sanitize(candidates[0], policy)}
	default:
		outcome.Kind = MultipleExpenses
		policy := r.policy(ctx, nil)
		outcome.Drafts = make([]Draft, 0, len(candidates))
		for _, c := range candidates {
			outcome.Drafts = append(outcome.Drafts, Sanitize(c, policy))
		}
	}

	if err := r.queue.Remove(item.ID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to remove analyzed capture", "id", item.ID, "error", err)
	}
	r.feed.Refresh()

	r.logger.InfoContext(ctx, "Capture analyzed",
		"id", item.ID,
		"outcome", outcome.Kind.String(),
		"drafts", len(outcome.Drafts),
	)
	return outcome, nil
}

// AnalyzeVoice resolves a voice note into a single draft. Voice capture
// has no queued form, so nothing is stored on any path.
func (r *Resolver) AnalyzeVoice(ctx context.Context, audio []byte, mimeType string) (Outcome, error) {
	if !r.gate.Online() {
		return Outcome{}, ErrOffline
	}

	candidate, err := r.scanVoice(ctx, audio, mimeType)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to analyze voice note", "mime_type", mimeType, "error", err)
		return Outcome{Kind: Failed, Reason: err}, nil
	}

	draft := Sanitize(*candidate, r.policy(ctx, nil))
	return Outcome{Kind: SingleExpense, Drafts: []Draft{draft}}, nil
}

func (r *Resolver) fail(ctx context.Context, item *Item, reason error) Outcome {
	if err := ensureQueued(r.queue, item); err != nil {
		r.logger.ErrorContext(ctx, "Failed to return capture to queue", "id", item.ID, "error", err)
		reason = errors.Join(reason, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	r.feed.Refresh()

	r.logger.WarnContext(ctx, "Capture analysis failed", "id", item.ID, "error", reason)
	return Outcome{Kind: Failed, ItemID: item.ID, Reason: reason}
}

// policy builds the sanitization policy for the current moment
func (r *Resolver) policy(ctx context.Context, receipts []Receipt) Policy {
	p := Policy{
		Categories: r.categories,
		Today:      r.clock.Now().Format("2006-01-02"),
		Receipts:   receipts,
	}
	if r.accounts == nil {
		return p
	}
	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to list accounts", "error", err)
		return p
	}
	if len(accounts) > 0 {
		p.DefaultAccount = accounts[0].ID
	}
	return p
}

// scan calls the backend, converting errors and panics into ErrInference
func (r *Resolver) scan(ctx context.Context, data []byte, mimeType string) (candidates []scanning.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			candidates = nil
			err = fmt.Errorf("%w: scanner panic: %v", ErrInference, p)
		}
	}()

	candidates, err = r.scanner.ScanExpenses(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return candidates, nil
}

func (r *Resolver) scanVoice(ctx context.Context, audio []byte, mimeType string) (candidate *scanning.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			candidate = nil
			err = fmt.Errorf("%w: scanner panic: %v", ErrInference, p)
		}
	}()

	candidate, err = r.scanner.ScanVoice(ctx, audio, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: empty voice result", ErrInference)
	}
	return candidate, nil
}
