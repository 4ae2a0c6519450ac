package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/zombor/expense-capture/internal/media"
)

// Phase is the step the capture flow is in
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseQueued         Phase = "queued"
	PhaseAnalyzing      Phase = "analyzing"
	PhaseAwaitingChoice Phase = "awaiting_choice"
	PhaseReviewing      Phase = "reviewing"
)

// Choice is the user's answer to the analyze-now prompt
type Choice string

const (
	ChoiceAnalyze Choice = "analyze"
	ChoiceQueue   Choice = "queue"
	ChoiceDismiss Choice = "dismiss"
)

// FlowState is a snapshot of the capture flow
type FlowState struct {
	Phase   Phase     `json:"phase"`
	ItemID  string    `json:"item_id,omitempty"`
	Shared  bool      `json:"shared,omitempty"`
	Reviews []Outcome `json:"reviews"`
}

// Controller owns the capture flow: it admits captures, runs analysis
// with at most one attempt in flight per item, and keeps outcomes that
// wait for confirmation until the user acts on them.
type Controller struct {
	queue    Queue
	gate     *Gate
	feed     *Feed
	intake   *Intake
	resolver *Resolver
	router   *Router
	creator  ExpenseCreator
	ids      IDGenerator
	logger   *slog.Logger
	autoSync bool

	mu           sync.Mutex
	phase        Phase
	itemID       string
	awaiting     *Held
	reviews      []Outcome
	inflight     map[string]struct{}
	pendingShare bool
}

// ControllerConfig wires a Controller
type ControllerConfig struct {
	Queue    Queue
	Gate     *Gate
	Feed     *Feed
	Intake   *Intake
	Resolver *Resolver
	Router   *Router
	Creator  ExpenseCreator
	IDs      IDGenerator
	Logger   *slog.Logger

	// AutoSync analyzes queued captures when connectivity returns
	AutoSync bool
}

// NewController creates a Controller and subscribes it to the gate
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuidGenerator{}
	}
	c := &Controller{
		queue:    cfg.Queue,
		gate:     cfg.Gate,
		feed:     cfg.Feed,
		intake:   cfg.Intake,
		resolver: cfg.Resolver,
		router:   cfg.Router,
		creator:  cfg.Creator,
		ids:      ids,
		logger:   logger.With("component", "controller"),
		autoSync: cfg.AutoSync,
		phase:    PhaseIdle,
		inflight: make(map[string]struct{}),
	}
	c.gate.Subscribe(c.onConnectivity)
	return c
}

// State returns the current flow state
func (c *Controller) State() FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() FlowState {
	state := FlowState{
		Phase:   c.phase,
		ItemID:  c.itemID,
		Reviews: append([]Outcome{}, c.reviews...),
	}
	if c.phase == PhaseAwaitingChoice && c.awaiting != nil {
		state.Shared = c.awaiting.Origin == OriginShared
	}
	return state
}

// Queue returns the visible queue, newest first
func (c *Controller) Queue() []*Item {
	return c.feed.Snapshot()
}

// Capture admits an artifact. Offline captures are queued. Online
// captures are held, unwritten, until the user answers the analyze-now
// prompt with Choose.
func (c *Controller) Capture(ctx context.Context, source SourceKind, artifact Artifact) (*Admission, error) {
	adm, err := c.intake.Capture(ctx, source, artifact)
	if err != nil {
		c.router.Error("", err)
		return nil, err
	}

	if adm.Handoff {
		c.hold(ctx, &Held{Item: adm.Item, Origin: OriginCapture})
		return adm, nil
	}

	c.mu.Lock()
	c.setPhaseLocked(PhaseQueued, adm.Item.ID)
	c.settleLocked()
	if source == SourceSharedFile {
		c.pendingShare = true
	}
	c.mu.Unlock()
	c.router.Info(adm.Item.ID, "Saved for later. It will be analyzed when you are back online.")
	return adm, nil
}

// Launch handles application start. When the launch came from the share
// sheet (or a share target hand-off is pending) the newest queued item is
// held aside as the shared item and the user is asked what to do with it.
func (c *Controller) Launch(ctx context.Context, shared bool) (FlowState, error) {
	c.mu.Lock()
	shared = shared || c.pendingShare
	c.pendingShare = false
	c.mu.Unlock()

	if !shared {
		c.feed.Refresh()
		return c.State(), nil
	}

	items := c.feed.All()
	if len(items) == 0 {
		c.router.Error("", ErrNoSharedItem)
		c.feed.Refresh()
		return c.State(), ErrNoSharedItem
	}

	item := items[0]
	c.hold(ctx, &Held{Item: item, Origin: OriginShared, Stored: true})
	c.logger.InfoContext(ctx, "Shared capture awaiting choice", "id", item.ID)
	return c.State(), nil
}

// hold makes held the item awaiting a choice. An item that was already
// waiting goes back to the queue listing, written first if it never was.
func (c *Controller) hold(ctx context.Context, held *Held) {
	if held.Stored {
		c.feed.Hide(held.Item.ID)
	}

	c.mu.Lock()
	prev := c.awaiting
	c.awaiting = held
	c.setPhaseLocked(PhaseAwaitingChoice, held.Item.ID)
	c.mu.Unlock()

	if prev != nil && prev.Item.ID != held.Item.ID {
		_ = c.release(ctx, prev)
	}
	c.feed.Refresh()
}

// release returns a held item to the queue listing
func (c *Controller) release(ctx context.Context, held *Held) error {
	c.feed.Reveal(held.Item.ID)
	if err := ensureQueued(c.queue, held.Item); err != nil {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
		c.router.Error(held.Item.ID, err)
		return err
	}
	c.logger.InfoContext(ctx, "Capture kept for later", "id", held.Item.ID, "origin", held.Origin.String())
	return nil
}

// Choose answers the analyze-now prompt for the awaiting item. Dismissing
// the prompt is the same as choosing to queue.
func (c *Controller) Choose(ctx context.Context, itemID string, choice Choice) (*Outcome, error) {
	c.mu.Lock()
	held := c.awaiting
	if held == nil || held.Item.ID != itemID {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	c.awaiting = nil
	c.mu.Unlock()

	c.feed.Reveal(itemID)

	switch choice {
	case ChoiceAnalyze:
		outcome, err := c.analyze(ctx, held)
		if err != nil {
			return nil, err
		}
		return &outcome, nil
	case ChoiceQueue, ChoiceDismiss:
		return nil, c.decline(ctx, held)
	default:
		// Unknown answers fall back to the non-destructive choice
		c.logger.WarnContext(ctx, "Unknown choice, queueing capture", "id", itemID, "choice", choice)
		return nil, c.decline(ctx, held)
	}
}

// decline keeps the item in the queue for later
func (c *Controller) decline(ctx context.Context, held *Held) error {
	err := c.release(ctx, held)
	c.feed.Refresh()

	c.mu.Lock()
	c.setPhaseLocked(PhaseIdle, "")
	c.settleLocked()
	c.mu.Unlock()

	return err
}

// AnalyzeQueued analyzes an item already in the queue
func (c *Controller) AnalyzeQueued(ctx context.Context, itemID string) (*Outcome, error) {
	item, err := c.queue.Get(itemID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
		}
		c.router.Error(itemID, err)
		return nil, err
	}

	c.mu.Lock()
	origin := OriginCapture
	if c.awaiting != nil && c.awaiting.Item.ID == itemID {
		origin = c.awaiting.Origin
		c.awaiting = nil
	}
	c.mu.Unlock()
	c.feed.Reveal(itemID)

	outcome, err := c.analyze(ctx, &Held{Item: item, Origin: origin, Stored: true})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.router.Error(itemID, err)
		}
		return nil, err
	}
	return &outcome, nil
}

// Sync analyzes queued items oldest first. It stops when the device goes
// offline or an analysis fails, and returns how many items were consumed.
// Items consumed elsewhere in the meantime are skipped.
func (c *Controller) Sync(ctx context.Context) (int, error) {
	items := c.feed.Snapshot()
	consumed := 0
	for i := len(items) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return consumed, err
		}
		outcome, err := c.analyze(ctx, &Held{Item: items[i], Origin: OriginCapture, Stored: true})
		if errors.Is(err, ErrAnalysisInProgress) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return consumed, err
		}
		if !outcome.Consumed() {
			return consumed, outcome.Reason
		}
		consumed++
	}
	return consumed, nil
}

// analyze runs the resolver for one item and routes the outcome. A stored
// item must still be queued once the attempt is claimed; otherwise it was
// consumed by another attempt and ErrNotFound is returned.
func (c *Controller) analyze(ctx context.Context, held *Held) (Outcome, error) {
	id := held.Item.ID
	if err := c.begin(id); err != nil {
		c.router.Error(id, err)
		return Outcome{}, err
	}

	if held.Stored {
		if _, err := c.queue.Get(id); err != nil {
			c.end(id, nil, PhaseIdle)
			if errors.Is(err, ErrNotFound) {
				c.logger.InfoContext(ctx, "Capture already consumed", "id", id)
				return Outcome{}, err
			}
			err = fmt.Errorf("%w: %w", ErrStorage, err)
			c.router.Error(id, err)
			return Outcome{}, err
		}
	}

	outcome, err := c.resolver.Analyze(ctx, held.Item)
	if errors.Is(err, ErrOffline) {
		// A hand-off item was never written; keep it
		qErr := ensureQueued(c.queue, held.Item)
		c.feed.Refresh()
		c.end(id, nil, PhaseQueued)
		if qErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrStorage, qErr))
		}
		c.router.Error(id, err)
		return Outcome{}, err
	}
	if err != nil {
		c.end(id, nil, PhaseIdle)
		c.router.Error(id, err)
		return Outcome{}, err
	}

	if c.router.Route(outcome) {
		c.end(id, &outcome, PhaseReviewing)
	} else if outcome.Kind == Failed {
		c.end(id, nil, PhaseQueued)
	} else {
		c.end(id, nil, PhaseIdle)
	}
	return outcome, nil
}

func (c *Controller) begin(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return ErrAnalysisInProgress
	}
	c.inflight[id] = struct{}{}
	c.setPhaseLocked(PhaseAnalyzing, id)
	return nil
}

func (c *Controller) end(id string, review *Outcome, next Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
	if review != nil {
		c.reviews = append(c.reviews, *review)
	}
	if next == PhaseIdle {
		id = ""
	}
	c.setPhaseLocked(next, id)
	c.settleLocked()
}

// ConfirmDraft stores the (possibly edited) draft of a single expense review
func (c *Controller) ConfirmDraft(ctx context.Context, itemID string, draft Draft) error {
	outcome, err := c.takeReview(itemID, SingleExpense)
	if err != nil {
		return err
	}
	if err := c.creator.CreateExpense(ctx, draft); err != nil {
		err = fmt.Errorf("creating expense: %w", err)
		c.router.Error(itemID, err)
		outcome.Drafts = []Draft{draft}
		c.restoreReview(outcome)
		return err
	}
	c.router.Info(itemID, "Expense saved.")
	return nil
}

// ConfirmReview stores the selected drafts of a multiple expense review in
// their original order. A nil selection keeps every draft; edits, when
// given for every draft, replace the analyzed ones. Drafts that could not
// be created stay in review for another attempt.
func (c *Controller) ConfirmReview(ctx context.Context, itemID string, selected []int, edits []Draft) (int, error) {
	outcome, err := c.takeReview(itemID, MultipleExpenses)
	if err != nil {
		return 0, err
	}

	drafts := outcome.Drafts
	if len(edits) == len(drafts) {
		drafts = edits
	}

	indexes := make([]int, 0, len(drafts))
	if selected == nil {
		for i := range drafts {
			indexes = append(indexes, i)
		}
	} else {
		seen := make(map[int]bool, len(selected))
		for _, i := range selected {
			if i < 0 || i >= len(drafts) || seen[i] {
				continue
			}
			seen[i] = true
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
	}

	created := 0
	var errs []error
	var failed []Draft
	for _, i := range indexes {
		if err := c.creator.CreateExpense(ctx, drafts[i]); err != nil {
			c.logger.ErrorContext(ctx, "Failed to create expense", "item_id", itemID, "index", i, "error", err)
			errs = append(errs, fmt.Errorf("expense %d: %w", i, err))
			failed = append(failed, drafts[i])
			continue
		}
		created++
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.router.Error(itemID, err)
		outcome.Drafts = failed
		c.restoreReview(outcome)
		return created, err
	}
	c.router.Info(itemID, fmt.Sprintf("%d expenses saved.", created))
	return created, nil
}

// CancelReview drops a pending review without creating anything
func (c *Controller) CancelReview(ctx context.Context, itemID string) error {
	outcome, err := c.takeReview(itemID, SingleExpense, MultipleExpenses)
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Review cancelled", "item_id", itemID, "drafts", len(outcome.Drafts))
	return nil
}

func (c *Controller) takeReview(itemID string, kinds ...OutcomeKind) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.reviews {
		if o.ItemID != itemID {
			continue
		}
		matches := false
		for _, k := range kinds {
			if o.Kind == k {
				matches = true
			}
		}
		if !matches {
			return Outcome{}, fmt.Errorf("review %s is %s: %w", itemID, o.Kind, ErrNotFound)
		}
		c.reviews = append(c.reviews[:i], c.reviews[i+1:]...)
		c.setPhaseLocked(PhaseIdle, "")
		c.settleLocked()
		return o, nil
	}
	return Outcome{}, ErrNotFound
}

// restoreReview puts a review back at the front of the pending reviews
// and presents it again.
func (c *Controller) restoreReview(outcome Outcome) {
	c.mu.Lock()
	c.reviews = append([]Outcome{outcome}, c.reviews...)
	c.settleLocked()
	c.mu.Unlock()
	c.router.Route(outcome)
}

// Discard deletes a queued item at the user's request. An item that is
// being analyzed cannot be discarded.
func (c *Controller) Discard(ctx context.Context, itemID string) error {
	c.mu.Lock()
	if _, busy := c.inflight[itemID]; busy {
		c.mu.Unlock()
		c.router.Error(itemID, ErrAnalysisInProgress)
		return ErrAnalysisInProgress
	}
	if err := c.queue.Remove(itemID); err != nil {
		c.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrStorage, err)
		c.router.Error(itemID, err)
		return err
	}
	if c.awaiting != nil && c.awaiting.Item.ID == itemID {
		c.awaiting = nil
		c.setPhaseLocked(PhaseIdle, "")
		c.settleLocked()
	}
	c.mu.Unlock()

	c.feed.Reveal(itemID)
	c.feed.Refresh()
	c.logger.InfoContext(ctx, "Capture discarded", "id", itemID)
	return nil
}

// CaptureVoice analyzes a voice note. It needs connectivity up front and
// never touches the queue.
func (c *Controller) CaptureVoice(ctx context.Context, filename, contentType string, body io.Reader) (*Outcome, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(body, media.MaxArtifactBytes+1)); err != nil {
		err = fmt.Errorf("%w: reading voice note: %w", ErrDecode, err)
		c.router.Error("", err)
		return nil, err
	}
	audio, mimeType, err := media.NormalizeAudio(filename, contentType, buf.Bytes())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		c.router.Error("", err)
		return nil, err
	}

	outcome, err := c.resolver.AnalyzeVoice(ctx, audio, mimeType)
	if err != nil {
		c.router.Error("", err)
		return nil, err
	}
	outcome.ItemID = "voice-" + c.ids.Generate()

	if c.router.Route(outcome) {
		c.mu.Lock()
		c.reviews = append(c.reviews, outcome)
		c.setPhaseLocked(PhaseReviewing, outcome.ItemID)
		c.mu.Unlock()
	}
	return &outcome, nil
}

// SetOnline applies a platform connectivity signal
func (c *Controller) SetOnline(online bool) bool {
	return c.gate.Set(online)
}

func (c *Controller) onConnectivity(online bool) {
	c.logger.Info("Connectivity changed", "online", online)
	if !online {
		return
	}

	c.feed.Refresh()
	pending := len(c.feed.Snapshot())
	if pending == 0 {
		return
	}
	c.router.Info("", fmt.Sprintf("Back online: %d captures ready for analysis.", pending))

	if c.autoSync {
		go func() {
			consumed, err := c.Sync(context.Background())
			c.logger.Info("Auto-sync finished", "consumed", consumed, "error", err)
		}()
	}
}

func (c *Controller) setPhaseLocked(phase Phase, itemID string) {
	c.phase = phase
	c.itemID = itemID
}

// settleLocked moves to the state that needs the user's attention, if any:
// the analyze-now prompt first, then the oldest pending review.
func (c *Controller) settleLocked() {
	if c.phase == PhaseAnalyzing || c.phase == PhaseQueued && c.awaiting == nil && len(c.reviews) == 0 {
		return
	}
	switch {
	case c.awaiting != nil:
		c.setPhaseLocked(PhaseAwaitingChoice, c.awaiting.Item.ID)
	case len(c.reviews) > 0:
		c.setPhaseLocked(PhaseReviewing, c.reviews[0].ItemID)
	case c.phase == PhaseReviewing || c.phase == PhaseAwaitingChoice:
		c.setPhaseLocked(PhaseIdle, "")
	}
}

// Item returns a queued item
func (c *Controller) Item(itemID string) (*Item, error) {
	item, err := c.queue.Get(itemID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return item, err
}
