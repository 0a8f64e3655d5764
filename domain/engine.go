package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxAttempts    = 3
	DefaultStorageTimeout = 10 * time.Second

	tracerName = "prism-board/domain"
)

// Storage persists whole board documents.
type Storage interface {
	// LoadBoard returns ErrBoardNotFound when the board does not exist.
	LoadBoard(ctx context.Context, id string) (*Board, error)
	// SaveBoard writes b only if the stored version still equals b.Version and
	// returns the new version. A mismatch yields ErrConcurrentModification.
	SaveBoard(ctx context.Context, b *Board) (string, error)
	CreateBoard(ctx context.Context, b *Board) (string, error)
	DeleteBoard(ctx context.Context, id string) error
}

// BoardReader serves reads that may come from a cache.
type BoardReader interface {
	FetchBoard(ctx context.Context, id string) (*Board, error)
}

// EngineOptions tunes an Engine. Zero values select defaults.
type EngineOptions struct {
	MaxAttempts    int
	StorageTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
	Logger         *log.Logger
}

// Engine is the façade for every board mutation. Each command runs against a
// freshly loaded board and is persisted as one document write; side effects
// are released only after that write succeeds.
type Engine struct {
	store       Storage
	sink        EffectSink
	cards       CardStore
	columns     ColumnStore
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time
	newID       func() string
	logger      *log.Logger
	tracer      trace.Tracer
	locks       *boardLocks
}

// errUnchanged short-circuits a command that did not modify the board.
var errUnchanged = errors.New("board unchanged")

func NewEngine(store Storage, sink EffectSink, opts EngineOptions) *Engine {
	if store == nil {
		panic("domain.NewEngine: storage is nil")
	}
	if sink == nil {
		sink = InlineSink{Logger: opts.Logger}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	cards := NewCardStore(opts.Now, opts.NewID)
	return &Engine{
		store:       store,
		sink:        sink,
		cards:       cards,
		columns:     NewColumnStore(cards),
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.StorageTimeout,
		now:         opts.Now,
		newID:       opts.NewID,
		logger:      opts.Logger,
		tracer:      otel.Tracer(tracerName),
		locks:       newBoardLocks(),
	}
}

// CreateBoard stores a new board with the given columns in order.
func (e *Engine) CreateBoard(ctx context.Context, actor, projectID, name string, columns []string) (*Board, error) {
	ctx, span := e.tracer.Start(ctx, "board.create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		err := fmt.Errorf("%w: board name is required", ErrValidation)
		endSpan(span, err)
		return nil, err
	}
	now := e.now().UTC()
	b := &Board{
		ID:        e.newID(),
		Name:      name,
		ProjectID: projectID,
		Columns:   []Column{},
		Cards:     []Card{},
		Settings:  DefaultSettings(),
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, col := range columns {
		if _, err := e.columns.CreateColumn(b, col, ""); err != nil {
			endSpan(span, err)
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("board.id", b.ID))

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	version, err := e.store.CreateBoard(sctx, b)
	cancel()
	if err != nil {
		err = persistenceErr(err)
		endSpan(span, err)
		return nil, err
	}
	b.Version = version
	e.logger.WithFields(log.Fields{"board": b.ID, "project": projectID, "user": actor}).Info("board created")
	endSpan(span, nil)
	return b, nil
}

// GetBoard returns the current board. Cached reads are used when the storage supports them.
func (e *Engine) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	ctx, span := e.tracer.Start(ctx, "board.get", trace.WithAttributes(attribute.String("board.id", boardID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	var (
		b   *Board
		err error
	)
	if r, ok := e.store.(BoardReader); ok {
		b, err = r.FetchBoard(ctx, boardID)
	} else {
		b, err = e.store.LoadBoard(ctx, boardID)
	}
	if err != nil {
		err = persistenceErr(err)
		endSpan(span, err)
		return nil, err
	}
	b.densify()
	endSpan(span, nil)
	return b, nil
}

// DeleteBoard removes a board and everything it owns.
func (e *Engine) DeleteBoard(ctx context.Context, actor, boardID string) error {
	ctx, span := e.tracer.Start(ctx, "board.delete", trace.WithAttributes(attribute.String("board.id", boardID)))
	defer span.End()

	unlock := e.locks.lock(boardID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.DeleteBoard(ctx, boardID); err != nil {
		err = persistenceErr(err)
		endSpan(span, err)
		return err
	}
	e.logger.WithFields(log.Fields{"board": boardID, "user": actor}).Info("board deleted")
	endSpan(span, nil)
	return nil
}

// UpdateSettings replaces the board settings.
func (e *Engine) UpdateSettings(ctx context.Context, actor, boardID string, settings Settings) (*Board, error) {
	return e.mutate(ctx, "update_settings", actor, boardID, func(b *Board, _ *Effects) error {
		if b.Settings == settings {
			return errUnchanged
		}
		b.Settings = settings
		return nil
	})
}

// Column, card and comment commands return the value they produced and the
// board version it was persisted at.

func (e *Engine) CreateColumn(ctx context.Context, actor, boardID, name, color string) (Column, string, error) {
	var col Column
	b, err := e.mutate(ctx, "create_column", actor, boardID, func(b *Board, _ *Effects) error {
		var err error
		col, err = e.columns.CreateColumn(b, name, color)
		return err
	})
	return col, versionOf(b), err
}

func (e *Engine) ReorderColumn(ctx context.Context, actor, boardID, columnID string, position int) (Column, string, error) {
	var col Column
	b, err := e.mutate(ctx, "reorder_column", actor, boardID, func(b *Board, _ *Effects) error {
		before, ok := b.Column(columnID)
		var err error
		col, err = e.columns.ReorderColumn(b, columnID, position)
		if err == nil && ok && before.Order == col.Order {
			return errUnchanged
		}
		return err
	})
	return col, versionOf(b), err
}

func (e *Engine) RenameColumn(ctx context.Context, actor, boardID, columnID, name string) (Column, string, error) {
	var col Column
	b, err := e.mutate(ctx, "rename_column", actor, boardID, func(b *Board, _ *Effects) error {
		var err error
		col, err = e.columns.RenameColumn(b, columnID, name)
		return err
	})
	return col, versionOf(b), err
}

func (e *Engine) RecolorColumn(ctx context.Context, actor, boardID, columnID, color string) (Column, string, error) {
	var col Column
	b, err := e.mutate(ctx, "recolor_column", actor, boardID, func(b *Board, _ *Effects) error {
		var err error
		col, err = e.columns.RecolorColumn(b, columnID, color)
		return err
	})
	return col, versionOf(b), err
}

func (e *Engine) DeleteColumn(ctx context.Context, actor, boardID, columnID string, d Disposition) (*Board, error) {
	return e.mutate(ctx, "delete_column", actor, boardID, func(b *Board, fx *Effects) error {
		return e.columns.DeleteColumn(b, fx, actor, columnID, d)
	})
}

func (e *Engine) CreateCard(ctx context.Context, actor, boardID, columnID, title string, fields CardFields) (Card, string, error) {
	var card Card
	b, err := e.mutate(ctx, "create_card", actor, boardID, func(b *Board, fx *Effects) error {
		var err error
		card, err = e.cards.CreateCard(b, fx, columnID, title, actor, fields)
		return err
	})
	return card, versionOf(b), err
}

func (e *Engine) UpdateCard(ctx context.Context, actor, boardID, cardID string, patch CardPatch) (Card, string, error) {
	var card Card
	b, err := e.mutate(ctx, "update_card", actor, boardID, func(b *Board, fx *Effects) error {
		var err error
		card, err = e.cards.UpdateCard(b, fx, actor, cardID, patch)
		if err == nil && fx.Empty() {
			return errUnchanged
		}
		return err
	})
	return card, versionOf(b), err
}

// MoveCard moves a card within or across columns. Moving a card onto its
// current position is a no-op and is not written.
func (e *Engine) MoveCard(ctx context.Context, actor, boardID, cardID, targetColumnID string, position int) (Card, string, error) {
	var card Card
	b, err := e.mutate(ctx, "move_card", actor, boardID, func(b *Board, fx *Effects) error {
		var err error
		card, err = e.cards.MoveCard(b, fx, actor, cardID, targetColumnID, position)
		if err == nil && fx.Empty() {
			return errUnchanged
		}
		return err
	})
	return card, versionOf(b), err
}

func (e *Engine) DeleteCard(ctx context.Context, actor, boardID, cardID string) (string, error) {
	b, err := e.mutate(ctx, "delete_card", actor, boardID, func(b *Board, fx *Effects) error {
		return e.cards.DeleteCard(b, fx, actor, cardID)
	})
	return versionOf(b), err
}

func (e *Engine) AddAssignee(ctx context.Context, actor, boardID, cardID, userID string) (Card, string, error) {
	return e.cardSetOp(ctx, "add_assignee", actor, boardID, cardID, func(b *Board, fx *Effects) (bool, error) {
		return e.cards.AddAssignee(b, fx, actor, cardID, userID)
	})
}

func (e *Engine) RemoveAssignee(ctx context.Context, actor, boardID, cardID, userID string) (Card, string, error) {
	return e.cardSetOp(ctx, "remove_assignee", actor, boardID, cardID, func(b *Board, fx *Effects) (bool, error) {
		return e.cards.RemoveAssignee(b, fx, actor, cardID, userID)
	})
}

func (e *Engine) AddLabel(ctx context.Context, actor, boardID, cardID, label string) (Card, string, error) {
	return e.cardSetOp(ctx, "add_label", actor, boardID, cardID, func(b *Board, fx *Effects) (bool, error) {
		return e.cards.AddLabel(b, fx, actor, cardID, label)
	})
}

func (e *Engine) RemoveLabel(ctx context.Context, actor, boardID, cardID, label string) (Card, string, error) {
	return e.cardSetOp(ctx, "remove_label", actor, boardID, cardID, func(b *Board, fx *Effects) (bool, error) {
		return e.cards.RemoveLabel(b, fx, actor, cardID, label)
	})
}

func (e *Engine) AddComment(ctx context.Context, actor, boardID, cardID, text string) (Comment, string, error) {
	var comment Comment
	b, err := e.mutate(ctx, "add_comment", actor, boardID, func(b *Board, fx *Effects) error {
		var err error
		comment, err = e.cards.AddComment(b, fx, actor, cardID, text)
		return err
	})
	return comment, versionOf(b), err
}

// cardSetOp runs an idempotent card operation and returns the resulting card.
func (e *Engine) cardSetOp(ctx context.Context, op, actor, boardID, cardID string, fn func(*Board, *Effects) (bool, error)) (Card, string, error) {
	b, err := e.mutate(ctx, op, actor, boardID, func(b *Board, fx *Effects) error {
		changed, err := fn(b, fx)
		if err != nil {
			return err
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return Card{}, "", err
	}
	card, _ := b.Card(cardID)
	return card, b.Version, nil
}

func versionOf(b *Board) string {
	if b == nil {
		return ""
	}
	return b.Version
}

// mutate is the read-modify-write cycle shared by every command. fn runs
// against a fresh copy of the board on each attempt, so anything it captures
// reflects the attempt that was finally persisted.
func (e *Engine) mutate(ctx context.Context, op, actor, boardID string, fn func(*Board, *Effects) error) (*Board, error) {
	ctx, span := e.tracer.Start(ctx, "board."+op, trace.WithAttributes(
		attribute.String("board.id", boardID),
		attribute.String("board.actor", actor),
	))
	defer span.End()

	unlock := e.locks.lock(boardID)
	defer unlock()

	fields := log.Fields{"board": boardID, "op": op, "user": actor}
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("board.attempts", attempt))

		b, err := e.load(ctx, boardID)
		if err != nil {
			endSpan(span, err)
			return nil, err
		}
		b.densify()

		fx := &Effects{}
		if err := fn(b, fx); err != nil {
			if errors.Is(err, errUnchanged) {
				endSpan(span, nil)
				return b, nil
			}
			endSpan(span, err)
			return nil, err
		}
		b.UpdatedAt = e.now().UTC()
		b.normalize()
		if err := b.Validate(); err != nil {
			e.logger.WithError(err).WithFields(fields).Error("mutation produced an invalid board")
			endSpan(span, err)
			return nil, err
		}

		version, err := e.save(ctx, b)
		if errors.Is(err, ErrConcurrentModification) {
			e.logger.WithFields(fields).WithField("attempt", attempt).Debug("board save conflicted, retrying")
			continue
		}
		if err != nil {
			e.logger.WithError(err).WithFields(fields).Error("board save failed")
			endSpan(span, err)
			return nil, err
		}
		b.Version = version

		if !fx.Empty() {
			// The request context may end as soon as we return.
			e.sink.Dispatch(context.WithoutCancel(ctx), *fx)
		}
		endSpan(span, nil)
		return b, nil
	}

	err := fmt.Errorf("%w: board %s still conflicting after %d attempts", ErrConcurrentModification, boardID, e.maxAttempts)
	e.logger.WithFields(fields).Warn("board save gave up after repeated conflicts")
	endSpan(span, err)
	return nil, err
}

func (e *Engine) load(ctx context.Context, boardID string) (*Board, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	b, err := e.store.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return b, nil
}

func (e *Engine) save(ctx context.Context, b *Board) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	version, err := e.store.SaveBoard(ctx, b)
	if err != nil {
		return "", persistenceErr(err)
	}
	return version, nil
}

// persistenceErr passes domain storage errors through and wraps everything
// else, including context deadlines, as ErrPersistence.
func persistenceErr(err error) error {
	switch {
	case errors.Is(err, ErrBoardNotFound),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrPersistence),
		errors.Is(err, ErrValidation):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// boardLocks serializes commands per board within this process.
type boardLocks struct {
	mu    sync.Mutex
	locks map[string]*boardLock
}

type boardLock struct {
	mu   sync.Mutex
	refs int
}

func newBoardLocks() *boardLocks {
	return &boardLocks{locks: make(map[string]*boardLock)}
}

func (l *boardLocks) lock(id string) func() {
	l.mu.Lock()
	bl, ok := l.locks[id]
	if !ok {
		bl = &boardLock{}
		l.locks[id] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()
		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
