package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftpro/chatcore/chat"
)

// Redis provides presence and live message events in Redis.
type Redis struct {
	cli    *redis.Client
	logger *slog.Logger
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli:    cli,
		logger: logger,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	presencePrefix = "presence"
	channelPrefix  = "chat"
	eventBuffer    = 64
)

func presenceKey(userID string) string {
	return fmt.Sprintf("%s:%s", presencePrefix, userID)
}

func channel(chatID string) string {
	return fmt.Sprintf("%s:%s:messages", channelPrefix, chatID)
}

// SetPresence stores p as a hash that expires after ttl.
func (r *Redis) SetPresence(ctx context.Context, p chat.Presence, ttl time.Duration) error {
	entry := &presence{
		UserID:   p.UserID,
		Status:   string(p.Status),
		LastSeen: p.LastSeen.UnixMilli(),
	}
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := presenceKey(p.UserID)
		pipe.HSet(ctx, key, entry)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set presence: %w", err)
	}
	return nil
}

// Presence returns the live entries of the given users. Expired or unknown
// users are absent from the result.
func (r *Redis) Presence(ctx context.Context, userIDs ...string) (map[string]chat.Presence, error) {
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	_, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = pipe.HGetAll(ctx, presenceKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	out := make(map[string]chat.Presence, len(userIDs))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		var p presence
		if err := cmd.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan presence %s: %w", userIDs[i], err)
		}
		out[userIDs[i]] = p.ChatPresence()
	}
	return out, nil
}

// PublishMessage announces m on its chat's channel.
func (r *Redis) PublishMessage(ctx context.Context, m chat.Message) error {
	payload, err := json.Marshal(event{ChatID: m.ChatID, MessageID: m.ID, Seq: m.Seq})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.cli.Publish(ctx, channel(m.ChatID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// SubscribeChat follows the messages published for chatID until the
// subscription is closed or ctx is done.
func (r *Redis) SubscribeChat(ctx context.Context, chatID string) (chat.Subscription, error) {
	ps := r.cli.Subscribe(ctx, channel(chatID))
	// Wait for the confirmation so no event published after this call
	// returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &subscription{
		ps:     ps,
		events: make(chan int64, eventBuffer),
		done:   make(chan struct{}),
		logger: r.logger,
	}
	go s.run(ctx)
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	events chan int64
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.events)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			seq, err := decodeEvent(msg.Payload)
			if err != nil {
				s.logger.Warn("Dropping malformed event", "channel", msg.Channel, "error", err.Error())
				continue
			}
			select {
			case s.events <- seq:
			default:
			}
		}
	}
}

func decodeEvent(payload string) (int64, error) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return 0, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Seq <= 0 {
		return 0, fmt.Errorf("event without sequence number")
	}
	return ev.Seq, nil
}

func (s *subscription) Events() <-chan int64 {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

var (
	_ chat.Publisher     = (*Redis)(nil)
	_ chat.Subscriber    = (*Redis)(nil)
	_ chat.PresenceStore = (*Redis)(nil)
)
