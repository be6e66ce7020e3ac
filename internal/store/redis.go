package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

// Redis implements Store on a Redis server. Sessions live in hashes, messages
// in per-session lists (insertion order is creation order), a set per visitor
// indexes that visitor's sessions, and a sorted set keyed by last-activity
// drives the sweep scan. Conditional writes run as Lua scripts so closed
// stays sticky without an in-process lock.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix for all store keys (default "chatrelay:").
	Prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client. Useful for testing with
// miniredis.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chatrelay:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) sessionKey(id string) string  { return r.prefix + "sess:" + id }
func (r *Redis) messagesKey(id string) string { return r.prefix + "msgs:" + id }
func (r *Redis) visitorKey(vid string) string { return r.prefix + "visitor:" + vid }
func (r *Redis) activityKey() string          { return r.prefix + "activity" }

// setStatusScript flips status and last-activity unless the session is
// already closed. Returns -1 when missing, 0 when closed, 1 when written.
// KEYS[1] session hash; ARGV[1] target status, ARGV[2] last-activity,
// ARGV[3] terminal status.
var setStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'status') == ARGV[3] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'lastActiveAt', ARGV[2])
return 1
`)

// sweepStatusScript flips status when the current status matches one of
// ARGV[4..] and the activity score is still older than the cutoff; a touch
// landing between the scan and this script keeps the session alive.
// Last-activity is left untouched; aging is not activity.
// KEYS[1] session hash, KEYS[2] activity zset; ARGV[1] session id,
// ARGV[2] cutoff millis, ARGV[3] target status.
var sweepStatusScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) >= tonumber(ARGV[2]) then return 0 end
local current = redis.call('HGET', KEYS[1], 'status')
for i = 4, #ARGV do
	if current == ARGV[i] then
		redis.call('HSET', KEYS[1], 'status', ARGV[3])
		return 1
	end
end
return 0
`)

func (r *Redis) CreateSession(ctx context.Context, visitorID string, metadata map[string]any) (chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:           uuid.NewString(),
		VisitorID:    visitorID,
		Status:       chat.StatusActive,
		Metadata:     metadata,
		LastActiveAt: now,
		CreatedAt:    now,
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return chat.Session{}, fmt.Errorf("marshal session metadata: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.sessionKey(session.ID), map[string]any{
		"id":           session.ID,
		"visitorId":    session.VisitorID,
		"status":       string(session.Status),
		"metadata":     string(meta),
		"lastActiveAt": session.LastActiveAt.Format(time.RFC3339Nano),
		"createdAt":    session.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, r.visitorKey(visitorID), session.ID)
	pipe.ZAdd(ctx, r.activityKey(), redis.Z{Score: float64(now.UnixMilli()), Member: session.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

func (r *Redis) GetSession(ctx context.Context, id string) (chat.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return chat.Session{}, ErrSessionNotFound
	}
	return sessionFromHash(fields)
}

func sessionFromHash(fields map[string]string) (chat.Session, error) {
	lastActive, err := time.Parse(time.RFC3339Nano, fields["lastActiveAt"])
	if err != nil {
		return chat.Session{}, fmt.Errorf("parse lastActiveAt: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields["createdAt"])
	if err != nil {
		return chat.Session{}, fmt.Errorf("parse createdAt: %w", err)
	}

	var metadata map[string]any
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return chat.Session{}, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return chat.Session{
		ID:           fields["id"],
		VisitorID:    fields["visitorId"],
		Status:       chat.Status(fields["status"]),
		Metadata:     metadata,
		LastActiveAt: lastActive,
		CreatedAt:    created,
	}, nil
}

func (r *Redis) LatestOpenSession(ctx context.Context, visitorID string) (chat.Session, error) {
	ids, err := r.client.SMembers(ctx, r.visitorKey(visitorID)).Result()
	if err != nil {
		return chat.Session{}, fmt.Errorf("list visitor sessions: %w", err)
	}

	var latest chat.Session
	found := false
	for _, id := range ids {
		session, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return chat.Session{}, err
		}
		if !session.Open() {
			continue
		}
		if !found || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
			found = true
		}
	}
	if !found {
		return chat.Session{}, ErrSessionNotFound
	}
	return latest, nil
}

func (r *Redis) TouchSession(ctx context.Context, id string, now time.Time) error {
	if err := r.setStatus(ctx, id, chat.StatusActive, now); err != nil {
		return err
	}
	// Keep the sweep index in step with last-activity.
	err := r.client.ZAdd(ctx, r.activityKey(), redis.Z{
		Score:  float64(now.UTC().UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("update activity index: %w", err)
	}
	return nil
}

func (r *Redis) CloseSession(ctx context.Context, id string, now time.Time) error {
	if err := r.setStatus(ctx, id, chat.StatusClosed, now); err != nil {
		return err
	}
	// Closed sessions no longer age; drop them from the sweep scan.
	if err := r.client.ZRem(ctx, r.activityKey(), id).Err(); err != nil {
		return fmt.Errorf("update activity index: %w", err)
	}
	return nil
}

func (r *Redis) setStatus(ctx context.Context, id string, status chat.Status, now time.Time) error {
	res, err := setStatusScript.Run(ctx, r.client,
		[]string{r.sessionKey(id)},
		string(status),
		now.UTC().Format(time.RFC3339Nano),
		string(chat.StatusClosed),
	).Int()
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	switch res {
	case -1:
		return ErrSessionNotFound
	case 0:
		return ErrSessionClosed
	}
	return nil
}

func (r *Redis) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	exists, err := r.client.Exists(ctx, r.sessionKey(msg.SessionID)).Result()
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	if exists == 0 {
		return chat.Message{}, ErrSessionNotFound
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.RPush(ctx, r.messagesKey(msg.SessionID), raw).Err(); err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (r *Redis) ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	exists, err := r.client.Exists(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := r.client.LRange(ctx, r.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("parse message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *Redis) SweepStatus(ctx context.Context, from []chat.Status, olderThan time.Time, to chat.Status) (int64, error) {
	cutoff := olderThan.UTC().UnixMilli()
	ids, err := r.client.ZRangeByScore(ctx, r.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff-1, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan activity index: %w", err)
	}

	var changed int64
	for _, id := range ids {
		args := make([]any, 0, len(from)+3)
		args = append(args, id, cutoff, string(to))
		for _, status := range from {
			args = append(args, string(status))
		}
		res, err := sweepStatusScript.Run(ctx, r.client, []string{r.sessionKey(id), r.activityKey()}, args...).Int()
		if err != nil {
			return changed, fmt.Errorf("sweep session %s: %w", id, err)
		}
		if res == 1 {
			changed++
			if to == chat.StatusClosed {
				if err := r.client.ZRem(ctx, r.activityKey(), id).Err(); err != nil {
					return changed, fmt.Errorf("update activity index: %w", err)
				}
			}
		}
	}
	return changed, nil
}
