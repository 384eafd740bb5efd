package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LoginActivityKey is the Redis list holding recent login events, newest first.
const LoginActivityKey = "portal:login_activity"

const loginActivityCap = 500

// LoginOutcome classifies a login attempt for the activity log.
type LoginOutcome string

const (
	OutcomeSucceeded LoginOutcome = "succeeded"
	OutcomeRejected  LoginOutcome = "rejected"
	OutcomeLocked    LoginOutcome = "locked"
	// OutcomeFailed is an attempt that could not be checked, e.g. the account store was unreachable.
	OutcomeFailed LoginOutcome = "failed"
)

// LoginEvent is one entry of the administrator-facing login activity feed.
type LoginEvent struct {
	ID         string       `json:"id"`
	At         time.Time    `json:"at"`
	Surface    Role         `json:"surface"`
	ClientID   string       `json:"client_id"`
	Identifier string       `json:"identifier"`
	Outcome    LoginOutcome `json:"outcome"`
}

func NewLoginEvent(surface Role, clientID, identifier string, outcome LoginOutcome) LoginEvent {
	return LoginEvent{
		ID:         uuid.NewString(),
		At:         time.Now().UTC(),
		Surface:    surface,
		ClientID:   clientID,
		Identifier: identifier,
		Outcome:    outcome,
	}
}

// ActivityLog stores login events for the administrator dashboard.
type ActivityLog interface {
	Record(ctx context.Context, ev LoginEvent) error
	Recent(ctx context.Context, limit int) ([]LoginEvent, error)
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// RedisActivityLog keeps a capped list of login events in Redis.
type RedisActivityLog struct {
	client redis.Cmdable
	key    string
	cap    int64
}

func NewRedisActivityLog(client redis.Cmdable) *RedisActivityLog {
	return &RedisActivityLog{client: client, key: LoginActivityKey, cap: loginActivityCap}
}

// Record pushes ev to the head of the list and trims the tail in one round trip.
func (l *RedisActivityLog) Record(ctx context.Context, ev LoginEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, b)
		pipe.LTrim(ctx, l.key, 0, l.cap-1)
		return nil
	})
	return err
}

// Recent returns up to limit events, newest first. Undecodable entries are skipped.
func (l *RedisActivityLog) Recent(ctx context.Context, limit int) ([]LoginEvent, error) {
	if limit <= 0 {
		return []LoginEvent{}, nil
	}
	vals, err := l.client.LRange(ctx, l.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LoginEvent, 0, len(vals))
	for _, v := range vals {
		var ev LoginEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
