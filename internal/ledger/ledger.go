package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/events"
	"github.com/zombor/expense-capture/internal/media"
)

// DB defines the persistence the ledger needs
type DB interface {
	// SaveExpense saves an expense
	SaveExpense(expense *Expense) error

	// ListExpenses returns all expenses
	ListExpenses() ([]*Expense, error)

	// AddAccount appends an account to the catalog
	AddAccount(account capture.Account) error

	// ListAccounts returns the catalog in insertion order
	ListAccounts() ([]capture.Account, error)
}

// IDGenerator generates unique expense IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Ledger creates confirmed expenses and serves the account catalog
type Ledger struct {
	db        DB
	storage   Storage
	publisher events.Publisher
	ids       IDGenerator
	clock     TimeSource
	logger    *slog.Logger
}

// NewLedger creates a Ledger with uuid ids and the system clock
func NewLedger(db DB, storage Storage, publisher events.Publisher, logger *slog.Logger) *Ledger {
	return NewLedgerWithDeps(db, storage, publisher, uuidGenerator{}, systemClock{}, logger)
}

// NewLedgerWithDeps creates a Ledger with custom dependencies for testing
func NewLedgerWithDeps(db DB, storage Storage, publisher events.Publisher, ids IDGenerator, clock TimeSource, logger *slog.Logger) *Ledger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:        db,
		storage:   storage,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger.With("component", "ledger"),
	}
}

// CreateExpense stores a confirmed draft and its receipts
func (l *Ledger) CreateExpense(ctx context.Context, draft capture.Draft) error {
	id := l.ids.Generate()
	now := l.clock.Now()

	date := draft.Date
	if _, err := time.Parse("2006-01-02", date); err != nil {
		date = now.Format("2006-01-02")
	}

	expense := &Expense{
		ID:          id,
		Description: strings.TrimSpace(draft.Description),
		Amount:      toCents(draft.Amount),
		Category:    draft.Category,
		Date:        date,
		Tags:        append([]string{}, draft.Tags...),
		Account:     draft.Account,
		Receipts:    []string{},
		CreatedAt:   now,
	}

	for i, r := range draft.Receipts {
		name, err := l.saveReceipt(id, i, r)
		if err != nil {
			l.cleanup(expense.Receipts)
			return fmt.Errorf("saving receipt %d: %w", i, err)
		}
		expense.Receipts = append(expense.Receipts, name)
	}

	if err := l.db.SaveExpense(expense); err != nil {
		l.cleanup(expense.Receipts)
		return fmt.Errorf("saving expense: %w", err)
	}

	l.logger.InfoContext(ctx, "Expense created",
		"id", id,
		"amount", expense.Amount,
		"category", expense.Category,
		"receipts", len(expense.Receipts),
	)

	msg := &events.ExpenseCreated{
		ID:        id,
		Amount:    expense.Amount,
		Category:  expense.Category,
		Date:      expense.Date,
		Account:   expense.Account,
		Timestamp: now,
	}
	if err := l.publisher.PublishExpenseCreated(ctx, msg); err != nil {
		// The expense is stored; a missed notification is not a failure
		l.logger.WarnContext(ctx, "Failed to publish expense created", "id", id, "error", err)
	}
	return nil
}

func (l *Ledger) saveReceipt(expenseID string, index int, r capture.Receipt) (string, error) {
	item := capture.Item{ID: expenseID, Payload: r.Payload}
	data, err := item.Bytes()
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%d%s", expenseID, index, media.Extension(r.MimeType))
	return l.storage.Save(filename, data)
}

func (l *Ledger) cleanup(files []string) {
	for _, f := range files {
		if err := l.storage.Delete(f); err != nil {
			l.logger.Warn("Failed to remove receipt", "file", f, "error", err)
		}
	}
}

// ListExpenses returns expenses newest first
func (l *Ledger) ListExpenses(ctx context.Context) ([]*Expense, error) {
	expenses, err := l.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

// ReceiptFile returns a stored receipt
func (l *Ledger) ReceiptFile(ctx context.Context, filename string) ([]byte, error) {
	return l.storage.Get(filename)
}

// ListAccounts returns the account catalog; the first account is the default
func (l *Ledger) ListAccounts(ctx context.Context) ([]capture.Account, error) {
	accounts, err := l.db.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// SeedAccounts adds any named account not already in the catalog
func (l *Ledger) SeedAccounts(ctx context.Context, names []string) error {
	existing, err := l.db.ListAccounts()
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		known[a.ID] = true
	}

	var errs []error
	for _, name := range names {
		name = strings.TrimSpace(name)
		id := accountID(name)
		if id == "" || known[id] {
			continue
		}
		if err := l.db.AddAccount(capture.Account{ID: id, Name: name}); err != nil {
			errs = append(errs, fmt.Errorf("adding account %q: %w", name, err))
			continue
		}
		known[id] = true
		l.logger.InfoContext(ctx, "Account added", "id", id, "name", name)
	}
	return errors.Join(errs...)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func accountID(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func toCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
