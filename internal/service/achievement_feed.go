package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/observability"
)

const (
	achievementBufferSize = 16
	achievementSubject    = "sqlp.achievements"
)

// AchievementFeed streams newly unlocked achievements to connected clients.
type AchievementFeed interface {
	Publish(ctx context.Context, sessionID string, achievement dto.AchievementResponse)
	Subscribe(sessionID string) (<-chan dto.AchievementResponse, func())
	Start(ctx context.Context)
}

type achievementEvent struct {
	Source      string                  `json:"source"`
	SessionID   string                  `json:"session_id"`
	Achievement dto.AchievementResponse `json:"achievement"`
	SentAt      time.Time               `json:"sent_at"`
}

type achievementFeed struct {
	nats   *nats.Conn
	logger zerolog.Logger
	nodeID string

	mu          sync.RWMutex
	subscribers map[string]map[chan dto.AchievementResponse]struct{}
}

// NewAchievementFeed constructs the feed. natsConn may be nil for a single
// node deployment.
func NewAchievementFeed(natsConn *nats.Conn, logger zerolog.Logger) AchievementFeed {
	return &achievementFeed{
		nats:        natsConn,
		logger:      logger.With().Str("component", "achievement_feed").Logger(),
		nodeID:      uuid.NewString(),
		subscribers: make(map[string]map[chan dto.AchievementResponse]struct{}),
	}
}

func (f *achievementFeed) Start(ctx context.Context) {
	if f.nats == nil {
		return
	}

	// Every node needs every event, so no queue group.
	sub, err := f.nats.Subscribe(achievementSubject, func(msg *nats.Msg) {
		f.handleEvent(msg.Data)
	})
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to subscribe to achievement subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to drain achievement subscription")
		}
	}()
}

func (f *achievementFeed) Publish(_ context.Context, sessionID string, achievement dto.AchievementResponse) {
	f.broadcast(sessionID, achievement)

	if f.nats == nil {
		return
	}
	payload, err := json.Marshal(achievementEvent{
		Source:      f.nodeID,
		SessionID:   sessionID,
		Achievement: achievement,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		f.logger.Warn().Err(err).Msg("failed to encode achievement event")
		return
	}
	if err := f.nats.Publish(achievementSubject, payload); err != nil {
		f.logger.Warn().Err(err).Msg("failed to publish achievement event")
	}
}

func (f *achievementFeed) Subscribe(sessionID string) (<-chan dto.AchievementResponse, func()) {
	ch := make(chan dto.AchievementResponse, achievementBufferSize)

	f.mu.Lock()
	if _, ok := f.subscribers[sessionID]; !ok {
		f.subscribers[sessionID] = make(map[chan dto.AchievementResponse]struct{})
	}
	f.subscribers[sessionID][ch] = struct{}{}
	f.mu.Unlock()
	observability.FeedClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			f.mu.Lock()
			if subscribers, ok := f.subscribers[sessionID]; ok {
				delete(subscribers, ch)
				close(ch)
				if len(subscribers) == 0 {
					delete(f.subscribers, sessionID)
				}
			}
			f.mu.Unlock()
			observability.FeedClientsActive().Dec()
		})
	}
	return ch, cleanup
}

func (f *achievementFeed) handleEvent(payload []byte) {
	var event achievementEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		f.logger.Warn().Err(err).Msg("invalid achievement event payload")
		return
	}
	if event.Source == f.nodeID || event.SessionID == "" {
		return
	}
	f.broadcast(event.SessionID, event.Achievement)
}

// broadcast never blocks; slow subscribers miss events.
func (f *achievementFeed) broadcast(sessionID string, achievement dto.AchievementResponse) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subscribers[sessionID] {
		select {
		case ch <- achievement:
		default:
		}
	}
}
