package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-capture/internal/media"
)

// IDGenerator generates unique capture IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Artifact is a raw file handed over by an entry point
type Artifact struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Admission is the result of a capture: either the item was queued, or
// it is handed off for immediate analysis and nothing was written.
type Admission struct {
	Item    *Item
	Source  SourceKind
	Handoff bool
}

// Intake normalizes artifacts into items and decides between immediate
// analysis and the durable queue.
type Intake struct {
	queue  Queue
	gate   *Gate
	feed   *Feed
	ids    IDGenerator
	clock  TimeSource
	logger *slog.Logger

	mu     sync.Mutex
	lastTS int64
}

// NewIntake creates an Intake with uuid ids and the system clock
func NewIntake(queue Queue, gate *Gate, feed *Feed, logger *slog.Logger) *Intake {
	return NewIntakeWithDeps(queue, gate, feed, uuidGenerator{}, systemClock{}, logger)
}

// NewIntakeWithDeps creates an Intake with custom dependencies for testing
func NewIntakeWithDeps(queue Queue, gate *Gate, feed *Feed, ids IDGenerator, clock TimeSource, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		queue:  queue,
		gate:   gate,
		feed:   feed,
		ids:    ids,
		clock:  clock,
		logger: logger.With("component", "intake"),
	}
}

// Capture normalizes an artifact and admits it. Shared files always go to
// the queue: the share target only hands off, the next launch resolves it.
func (in *Intake) Capture(ctx context.Context, source SourceKind, artifact Artifact) (*Admission, error) {
	item, err := in.normalize(artifact)
	if err != nil {
		in.logger.WarnContext(ctx, "Rejected capture",
			"source", source,
			"filename", artifact.Filename,
			"content_type", artifact.ContentType,
			"error", err,
		)
		return nil, err
	}

	if source != SourceSharedFile && in.gate.Online() {
		in.logger.InfoContext(ctx, "Capture handed to analysis", "id", item.ID, "source", source)
		return &Admission{Item: item, Source: source, Handoff: true}, nil
	}

	if err := in.queue.Enqueue(item); err != nil {
		return nil, fmt.Errorf("%w: enqueue %s: %w", ErrStorage, item.ID, err)
	}
	in.feed.Refresh()

	in.logger.InfoContext(ctx, "Capture queued",
		"id", item.ID,
		"source", source,
		"mime_type", item.MimeType,
		"size", item.Size(),
	)
	return &Admission{Item: item, Source: source}, nil
}

func (in *Intake) normalize(artifact Artifact) (*Item, error) {
	if artifact.Body == nil {
		return nil, fmt.Errorf("%w: no content", ErrDecode)
	}
	data, err := io.ReadAll(io.LimitReader(artifact.Body, media.MaxArtifactBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading artifact: %w", ErrDecode, err)
	}

	payload, mimeType, err := media.Normalize(artifact.Filename, artifact.ContentType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return NewItem(in.ids.Generate(), payload, mimeType, in.nextTimestamp()), nil
}

// nextTimestamp keeps capture timestamps strictly increasing so newest
// first ordering is stable even for captures in the same millisecond.
func (in *Intake) nextTimestamp() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()

	ts := in.clock.Now().UnixMilli()
	if ts <= in.lastTS {
		ts = in.lastTS + 1
	}
	in.lastTS = ts
	return time.UnixMilli(ts)
}
