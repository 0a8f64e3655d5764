package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/notify"
)

const (
	routeBoards        = "/api/boards"
	routeBoard         = "/api/boards/:boardId"
	routeCommands      = "/api/boards/:boardId/commands"
	routeActivity      = "/api/boards/:boardId/activity"
	routeNotifications = "/api/notifications"

	headerIdempotencyKey = "Idempotency-Key"
	healthCheckTimeout   = 2 * time.Second
)

// Options carries the optional collaborators of the HTTP surface.
type Options struct {
	Auth     Authenticator
	Deduper  Deduper
	Activity ActivityReader
	Inbox    InboxReader
	Health   []HealthChecker
	Logger   *log.Logger
}

type handlers struct {
	boards   Boards
	auth     Authenticator
	deduper  Deduper
	activity ActivityReader
	inbox    InboxReader
	health   []HealthChecker
	log      *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, opts Options) {
	if opts.Auth == nil {
		panic("api.Register: authenticator is nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	h := &handlers{
		boards:   boards,
		auth:     opts.Auth,
		deduper:  opts.Deduper,
		activity: opts.Activity,
		inbox:    opts.Inbox,
		health:   opts.Health,
		log:      opts.Logger,
	}

	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.BodyLimit(postCommandBodyLimit))
	e.Use(GzipRequestMiddleware(postCommandMaxSize))

	e.GET("/healthz", h.healthz)
	e.POST(routeBoards, h.postBoard)
	e.GET(routeBoard, h.getBoard)
	e.DELETE(routeBoard, h.deleteBoard)
	e.POST(routeCommands, h.postCommand)
	if h.activity != nil {
		e.GET(routeActivity, h.getActivity)
	}
	if h.inbox != nil {
		e.GET(routeNotifications, h.getNotifications)
	}
}

func (h *handlers) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()
	for _, check := range h.health {
		if err := check(ctx); err != nil {
			h.log.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) begin(c echo.Context, route string) (*requestMetrics, context.Context) {
	m, ctx := newRequestMetrics(c.Request().Context(), h.log, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return m, ctx
}

func (h *handlers) user(c echo.Context, m *requestMetrics) (string, error) {
	start := time.Now()
	id, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
	}
	return id, err
}

func (h *handlers) fail(c echo.Context, m *requestMetrics, err error) error {
	status, stage := statusFor(err)
	m.SetErrorStage(stage)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("stage", stage).Error("board request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	return c.JSON(status, errorResponse{Error: msg})
}

func unauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
}

// decodeBody reads at most postCommandMaxSize bytes. Larger bodies fail with
// errBodyTooLarge instead of being truncated.
func decodeBody(c echo.Context, v any) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, postCommandMaxSize+1))
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, echo.ErrStatusRequestEntityTooLarge),
		int64(len(data)) > postCommandMaxSize:
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, postCommandMaxSize)
	case err != nil:
		return fmt.Errorf("%w: read body: %v", domain.ErrValidation, err)
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrValidation)
	}
	return nil
}

func setVersion(c echo.Context, version string) {
	if version != "" {
		c.Response().Header().Set("ETag", strconv.Quote(version))
	}
}

func (h *handlers) postBoard(c echo.Context) error {
	m, ctx := h.begin(c, routeBoards)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	userID, err := h.user(c, m)
	if err != nil {
		cause = err
		return unauthorized(c, err)
	}
	var req createBoardRequest
	if err := decodeBody(c, &req); err != nil {
		cause = err
		return h.fail(c, m, err)
	}

	start := time.Now()
	b, err := h.boards.CreateBoard(ctx, userID, req.ProjectID, req.Name, req.Columns)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	m.SetBoard(b.ID)
	setVersion(c, b.Version)
	return c.JSON(http.StatusCreated, b)
}

func (h *handlers) getBoard(c echo.Context) error {
	m, ctx := h.begin(c, routeBoard)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	if _, err := h.user(c, m); err != nil {
		cause = err
		return unauthorized(c, err)
	}
	boardID := c.Param("boardId")
	m.SetBoard(boardID)

	start := time.Now()
	b, err := h.boards.GetBoard(ctx, boardID)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	setVersion(c, b.Version)
	if match := c.Request().Header.Get("If-None-Match"); match != "" && b.Version != "" && match == strconv.Quote(b.Version) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) deleteBoard(c echo.Context) error {
	m, ctx := h.begin(c, routeBoard)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	userID, err := h.user(c, m)
	if err != nil {
		cause = err
		return unauthorized(c, err)
	}
	boardID := c.Param("boardId")
	m.SetBoard(boardID)

	start := time.Now()
	err = h.boards.DeleteBoard(ctx, userID, boardID)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) postCommand(c echo.Context) error {
	m, ctx := h.begin(c, routeCommands)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	userID, err := h.user(c, m)
	if err != nil {
		cause = err
		return unauthorized(c, err)
	}
	boardID := c.Param("boardId")
	m.SetBoard(boardID)

	var cmd commandRequest
	if err := decodeBody(c, &cmd); err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	m.SetCommand(cmd.Type)
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	}

	recorded := false
	if cmd.IdempotencyKey != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, userID, cmd.IdempotencyKey)
		if err != nil {
			cause = fmt.Errorf("%w: idempotency store: %w", domain.ErrPersistence, err)
			return h.fail(c, m, cause)
		}
		if !added {
			cause = fmt.Errorf("%w: %s", errDuplicateCommand, cmd.IdempotencyKey)
			return h.fail(c, m, cause)
		}
		recorded = true
	}

	start := time.Now()
	result, version, err := runCommand(ctx, h.boards, userID, boardID, cmd)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		cause = err
		if recorded {
			h.release(ctx, userID, cmd.IdempotencyKey)
		}
		return h.fail(c, m, err)
	}
	setVersion(c, version)
	return c.JSON(http.StatusOK, commandResponse{
		IdempotencyKey: cmd.IdempotencyKey,
		Version:        version,
		Result:         result,
	})
}

// release forgets an idempotency key so a failed command can be retried.
func (h *handlers) release(ctx context.Context, userID, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthCheckTimeout)
	defer cancel()
	if err := h.deduper.Remove(ctx, userID, key); err != nil {
		h.log.WithError(err).WithField("key", key).Warn("failed to release idempotency key")
	}
}

func (h *handlers) getActivity(c echo.Context) error {
	m, ctx := h.begin(c, routeActivity)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	if _, err := h.user(c, m); err != nil {
		cause = err
		return unauthorized(c, err)
	}
	boardID := c.Param("boardId")
	m.SetBoard(boardID)

	limit, err := parseLimit(c.QueryParam("limit"), defaultActivityLimit, maxActivityLimit)
	if err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	start := time.Now()
	items, err := h.activity.List(ctx, boardID, limit)
	m.ObserveEngine(time.Since(start))
	if err != nil {
		cause = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		return h.fail(c, m, cause)
	}
	if items == nil {
		items = []domain.Activity{}
	}
	return c.JSON(http.StatusOK, activityResponse{Activity: items})
}

func (h *handlers) getNotifications(c echo.Context) error {
	m, ctx := h.begin(c, routeNotifications)
	var cause error
	defer func() { m.Log(c.Response().Status, cause) }()

	userID, err := h.user(c, m)
	if err != nil {
		cause = err
		return unauthorized(c, err)
	}
	limit, err := parseLimit(c.QueryParam("limit"), 0, 0)
	if err != nil {
		cause = err
		return h.fail(c, m, err)
	}
	msgs, err := h.inbox.Inbox(ctx, userID, limit)
	if err != nil {
		cause = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		return h.fail(c, m, cause)
	}
	if msgs == nil {
		msgs = []notify.Message{}
	}
	return c.JSON(http.StatusOK, notificationsResponse{Notifications: msgs})
}

// parseLimit reads a positive limit query value. A zero max leaves it unbounded.
func parseLimit(raw string, fallback, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid limit", domain.ErrValidation)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}
