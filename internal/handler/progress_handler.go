package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/utils"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteWait    = 5 * time.Second
)

// streamMessage is one frame of the achievement stream.
type streamMessage struct {
	Type        string                   `json:"type"`
	SessionID   string                   `json:"session_id,omitempty"`
	Achievement *dto.AchievementResponse `json:"achievement,omitempty"`
}

// ProgressHandler exposes session, attempt and progress endpoints.
type ProgressHandler struct {
	progress  service.ProgressService
	problems  service.ProblemService
	feed      service.AchievementFeed
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewProgressHandler constructs the progress handler. feed may be nil, in
// which case the stream endpoint is not registered.
func NewProgressHandler(progress service.ProgressService, problems service.ProblemService, feed service.AchievementFeed, validator *validator.Validate, logger zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progress:  progress,
		problems:  problems,
		feed:      feed,
		validator: validator,
		logger:    logger.With().Str("component", "progress_handler").Logger(),
	}
}

// Register wires the routes below /progress.
func (h *ProgressHandler) Register(router fiber.Router) {
	router.Post("/session", h.initSession)
	router.Post("/heartbeat", h.heartbeat)
	router.Post("/attempt", h.recordAttempt)
	router.Get("/overview", h.overview)
	router.Get("/detailed", h.detailed)
	router.Get("/stats", h.stats)
	router.Get("/leaderboard", h.leaderboard)

	if h.feed != nil {
		router.Use("/stream", h.upgrade)
		router.Get("/stream", websocket.New(h.stream))
	}
}

func (h *ProgressHandler) initSession(c *fiber.Ctx) error {
	var payload dto.SessionRequest
	if len(c.Body()) > 0 {
		if ok, err := bindJSON(c, h.validator, &payload); !ok {
			return err
		}
	}
	if payload.SessionID == "" {
		payload.SessionID = middleware.SessionIDFromContext(c)
	}

	session, err := h.progress.InitializeSession(c.UserContext(), service.SessionInput{
		SessionID: payload.SessionID,
		UserID:    middleware.UserIDFromContext(c),
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return handleError(c, h.logger, err)
	}

	c.Set(middleware.HeaderSessionID, session.SessionID)
	return utils.SendSuccess(c, "session ready", session)
}

func (h *ProgressHandler) heartbeat(c *fiber.Ctx) error {
	if err := h.progress.Heartbeat(c.UserContext(), middleware.SessionIDFromContext(c)); err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "heartbeat recorded", nil)
}

func (h *ProgressHandler) recordAttempt(c *fiber.Ctx) error {
	var payload dto.AttemptRequest
	if ok, err := bindJSON(c, h.validator, &payload); !ok {
		return err
	}

	sessionID := middleware.SessionIDFromContext(c)
	if sessionID == "" {
		return handleError(c, h.logger, service.ErrSessionRequired)
	}

	problem, err := h.problems.Resolve(c.UserContext(), payload.ProblemID)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	attempt, err := h.progress.RecordAttempt(c.UserContext(), service.AttemptInput{
		SessionID:       sessionID,
		UserID:          middleware.UserIDFromContext(c),
		ProblemID:       problem.ID,
		Query:           payload.Query,
		Dialect:         payload.Dialect,
		IsCorrect:       payload.IsCorrect,
		ExecutionTimeMs: payload.ExecutionTimeMs,
		ErrorMessage:    payload.ErrorMessage,
		HintUsed:        payload.HintUsed,
		SolutionViewed:  payload.SolutionViewed,
	})
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attempt recorded", dto.NewAttemptResponse(attempt))
}

func (h *ProgressHandler) overview(c *fiber.Ctx) error {
	sessionID, err := requireSession(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	overview, err := h.progress.Overview(c.UserContext(), sessionID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "progress overview retrieved", overview)
}

func (h *ProgressHandler) detailed(c *fiber.Ctx) error {
	sessionID, err := requireSession(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	detailed, err := h.progress.Detailed(c.UserContext(), sessionID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "detailed progress retrieved", detailed)
}

func (h *ProgressHandler) stats(c *fiber.Ctx) error {
	sessionID, err := requireSession(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	stats, err := h.progress.Stats(c.UserContext(), sessionID)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "progress stats retrieved", stats)
}

func (h *ProgressHandler) leaderboard(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	entries, err := h.progress.Leaderboard(c.UserContext(), limit)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "leaderboard retrieved", entries)
}

func (h *ProgressHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if middleware.SessionIDFromContext(c) == "" {
		return handleError(c, h.logger, service.ErrSessionRequired)
	}
	return c.Next()
}

func (h *ProgressHandler) stream(conn *websocket.Conn) {
	sessionID, _ := conn.Locals("session_id").(string)
	logger := h.logger.With().Str("session_id", sessionID).Logger()

	achievements, cancel := h.feed.Subscribe(sessionID)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(streamMessage{Type: "connected", SessionID: sessionID}); err != nil {
		return
	}
	logger.Debug().Msg("achievement stream opened")

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Debug().Msg("achievement stream closed by client")
			return
		case achievement, ok := <-achievements:
			if !ok {
				return
			}
			if err := conn.WriteJSON(streamMessage{Type: "achievement", Achievement: &achievement}); err != nil {
				logger.Debug().Err(err).Msg("achievement stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func requireSession(c *fiber.Ctx) (string, error) {
	sessionID := middleware.SessionIDFromContext(c)
	if sessionID == "" {
		return "", service.ErrSessionRequired
	}
	return sessionID, nil
}
