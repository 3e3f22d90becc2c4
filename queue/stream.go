// Package queue is a durable work queue on a Redis stream consumer group.
//
// Entries are delivered to exactly one consumer of the group and stay in the
// consumer's pending list until acknowledged, so a crash between delivery and
// Ack loses nothing: the next ReadPending returns the entry again.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/provider"
)

// Message is one stream entry.
type Message struct {
	ID     string
	Values map[string]any
}

// Field returns a value as a string ("" when absent).
func (m Message) Field(name string) string {
	switch v := m.Values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

type Config struct {
	Stream   string // e.g. "stream.orders"
	Group    string // e.g. "g1"
	Consumer string // stable per replica, so a restart reads its own pending list
}

type Stream struct {
	rdb redis.UniversalClient
	cfg Config
	log log.Logger
}

func New(client redis.UniversalClient, cfg Config, logger log.Logger) *Stream {
	return &Stream{rdb: client, cfg: cfg, log: log.OrNop(logger)}
}

// DeadLetterName is the stream that receives entries given up on.
func (s *Stream) DeadLetterName() string { return s.cfg.Stream + ".dlq" }

// EnsureGroup creates the stream and group if missing. An existing group is fine.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(provider.Unavailable(err), "queue: create group %s/%s", s.cfg.Stream, s.cfg.Group)
	}
	return nil
}

// ReadNew waits up to block for one never-delivered entry. It returns
// (nil, nil) when nothing arrived. block <= 0 does not wait.
func (s *Stream) ReadNew(ctx context.Context, block time.Duration) (*Message, error) {
	if block <= 0 {
		block = -1
	}
	return s.readOne(ctx, ">", block)
}

// ReadPending returns the oldest entry delivered to this consumer but not yet
// acknowledged, or (nil, nil) when the pending list is empty.
func (s *Stream) ReadPending(ctx context.Context) (*Message, error) {
	return s.readOne(ctx, "0", -1)
}

func (s *Stream) readOne(ctx context.Context, id string, block time.Duration) (*Message, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(provider.Unavailable(err), "queue: read %s", s.cfg.Stream)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	m := res[0].Messages[0]
	return &Message{ID: m.ID, Values: m.Values}, nil
}

func (s *Stream) Ack(ctx context.Context, id string) error {
	if err := s.rdb.XAck(ctx, s.cfg.Stream, s.cfg.Group, id).Err(); err != nil {
		return errors.Wrapf(provider.Unavailable(err), "queue: ack %s", id)
	}
	return nil
}

// DeadLetter copies msg to the dead-letter stream with reason, then acks it,
// in one MULTI so the entry is never both lost and acked.
func (s *Stream) DeadLetter(ctx context.Context, msg Message, reason string) error {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["sourceId"] = msg.ID
	values["reason"] = reason

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{Stream: s.DeadLetterName(), Values: values})
		p.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.ID)
		return nil
	})
	if err != nil {
		return errors.Wrapf(provider.Unavailable(err), "queue: dead-letter %s", msg.ID)
	}
	s.log.Warn("entry moved to dead-letter stream", log.Fields{
		"stream": s.cfg.Stream, "id": msg.ID, "reason": reason,
	})
	return nil
}

// Pending counts entries delivered to the group but not acknowledged.
func (s *Stream) Pending(ctx context.Context) (int64, error) {
	p, err := s.rdb.XPending(ctx, s.cfg.Stream, s.cfg.Group).Result()
	if err != nil {
		return 0, errors.Wrap(provider.Unavailable(err), "queue: pending")
	}
	return p.Count, nil
}

// ClaimStale moves up to count entries idle for at least minIdle from any
// consumer of the group (typically one whose replica is gone) to this one.
// Claimed entries are then returned by ReadPending.
func (s *Stream) ClaimStale(ctx context.Context, minIdle time.Duration, count int64) (int, error) {
	pend, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Stream,
		Group:  s.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(provider.Unavailable(err), "queue: list pending")
	}
	ids := make([]string, 0, len(pend))
	for _, p := range pend {
		if p.Consumer != s.cfg.Consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	claimed, err := s.rdb.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(provider.Unavailable(err), "queue: claim")
	}
	if len(claimed) > 0 {
		s.log.Info("claimed stale entries", log.Fields{
			"stream": s.cfg.Stream, "consumer": s.cfg.Consumer, "count": len(claimed),
		})
	}
	return len(claimed), nil
}
