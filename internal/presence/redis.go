package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whiteboard-backend/internal/model"
)

// UpdatesChannel Redis pub/sub 채널 이름
const UpdatesChannel = "presence_updates"

// PresenceStatus 상태 상수
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusOffline PresenceStatus = "OFFLINE"
)

// PresenceData Redis에 저장될 상태 데이터
type PresenceData struct {
	UserID        string         `json:"user_id"`
	BoardID       model.ID       `json:"board_id"`
	Status        PresenceStatus `json:"status"`
	LastHeartbeat int64          `json:"last_heartbeat"`
	ServerID      string         `json:"server_id"` // 멀티 서버 확장 대비
}

// Mirror copies board presence into Redis so other instances and tools can
// read who is on a board. The in-memory Tracker stays authoritative.
type Mirror struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
	logger   *zap.Logger
}

// Dial Redis 연결 후 Ping 확인
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewMirror 생성자. ttl bounds how long a crashed instance's entries survive.
func NewMirror(client *redis.Client, serverID string, ttl time.Duration, logger *zap.Logger) *Mirror {
	return &Mirror{client: client, serverID: serverID, ttl: ttl, logger: logger.Named("presence.redis")}
}

func boardKey(boardID model.ID) string {
	return fmt.Sprintf("presence:board:%s", boardID)
}

// Joined records userID on boardID and publishes the change.
func (m *Mirror) Joined(ctx context.Context, boardID model.ID, userID string) error {
	data := PresenceData{
		UserID:        userID,
		BoardID:       boardID,
		Status:        StatusOnline,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	key := boardKey(boardID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, userID, jsonData)
	pipe.Expire(ctx, key, m.ttl)
	pipe.Publish(ctx, UpdatesChannel, jsonData)
	_, err = pipe.Exec(ctx)
	return err
}

// Left removes userID from boardID and publishes the change.
func (m *Mirror) Left(ctx context.Context, boardID model.ID, userID string) error {
	data := PresenceData{
		UserID:        userID,
		BoardID:       boardID,
		Status:        StatusOffline,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.HDel(ctx, boardKey(boardID), userID)
	pipe.Publish(ctx, UpdatesChannel, jsonData)
	_, err = pipe.Exec(ctx)
	return err
}

// Touch extends the TTL of a board's presence entry (heartbeat).
func (m *Mirror) Touch(ctx context.Context, boardID model.ID) error {
	return m.client.Expire(ctx, boardKey(boardID), m.ttl).Err()
}

// Participants returns the user ids recorded for boardID, sorted.
func (m *Mirror) Participants(ctx context.Context, boardID model.ID) ([]string, error) {
	users, err := m.client.HKeys(ctx, boardKey(boardID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

// Subscribe 상태 변경 이벤트 구독
func (m *Mirror) Subscribe(ctx context.Context) *redis.PubSub {
	return m.client.Subscribe(ctx, UpdatesChannel)
}

// Run refreshes the TTL of every locally live board until ctx is done.
func (m *Mirror) Run(ctx context.Context, boards func() []model.ID) {
	ticker := time.NewTicker(refreshPeriod(m.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range boards() {
				if err := m.Touch(ctx, id); err != nil {
					m.logger.Warn("failed to refresh board presence", zap.String("board_id", id.String()), zap.Error(err))
				}
			}
		}
	}
}

// refreshPeriod is half the TTL, never below one second.
func refreshPeriod(ttl time.Duration) time.Duration {
	if p := ttl / 2; p >= time.Second {
		return p
	}
	return time.Second
}
