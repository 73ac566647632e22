package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/d60-Lab/namesync/internal/service"
	"github.com/d60-Lab/namesync/pkg/logger"
)

const payloadField = "payload"

// UserChangedEvent 用户文档变更通知（id + 前后快照）
type UserChangedEvent struct {
	UserID string                `json:"user_id"`
	Before *service.UserSnapshot `json:"before,omitempty"`
	After  *service.UserSnapshot `json:"after,omitempty"`
}

// Handler 处理单个事件；返回错误时消息保持 pending，下次轮询重试
type Handler func(ctx context.Context, ev UserChangedEvent) error

// Publish 写入变更事件，返回 stream entry id
func Publish(ctx context.Context, rdb *redis.Client, stream string, ev UserChangedEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
}

// Options 订阅参数
type Options struct {
	Stream         string
	Group          string
	Consumer       string
	Workers        int
	Count          int64
	Block          time.Duration // <0 表示非阻塞读取
	HandlerTimeout time.Duration
	MaxAttempts    int // 超过后转入 <stream>.dead 并 ack
	Meter          metric.Meter
}

// StreamSubscriber 基于 Redis Streams 消费组的变更订阅：处理成功才 ack（至少一次投递）
type StreamSubscriber struct {
	rdb       *redis.Client
	handler   Handler
	opts      Options
	attemptMu sync.Mutex
	attempts  map[string]int
	latency   metric.Float64Histogram
}

func NewStreamSubscriber(rdb *redis.Client, handler Handler, opts Options) *StreamSubscriber {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Count <= 0 {
		opts.Count = 64
	}
	if opts.Block == 0 {
		opts.Block = 2 * time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("github.com/d60-Lab/namesync/internal/trigger")
	}
	latency, err := opts.Meter.Float64Histogram(
		"namesync.user_change.handle.duration",
		metric.WithDescription("user change handler latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("create handler latency histogram failed", zap.Error(err))
	}
	return &StreamSubscriber{
		rdb:      rdb,
		handler:  handler,
		opts:     opts,
		attempts: make(map[string]int),
		latency:  latency,
	}
}

// EnsureGroup 创建消费组（流不存在时一并创建），已存在时忽略
func (s *StreamSubscriber) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Start 后台轮询直到 stop 被调用；返回停止函数
func (s *StreamSubscriber) Start(ctx context.Context) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			n, err := s.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("poll user change stream failed", zap.String("stream", s.opts.Stream), zap.Error(err))
			}
			if err != nil || (n == 0 && s.opts.Block < 0) {
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

// Poll 先重试本消费者的 pending 消息，再读取新消息；返回成功处理的条数
func (s *StreamSubscriber) Poll(ctx context.Context) (int, error) {
	pending, err := s.read(ctx, "0", -1)
	if err != nil {
		return 0, err
	}
	fresh, err := s.read(ctx, ">", s.opts.Block)
	if err != nil {
		return 0, err
	}
	msgs := append(pending, fresh...)
	if len(msgs) == 0 {
		return 0, nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  int
		sem = make(chan struct{}, s.opts.Workers)
	)
	for _, m := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(m redis.XMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.process(ctx, m) {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	return ok, nil
}

func (s *StreamSubscriber) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, id},
		Count:    s.opts.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", id, err)
	}
	var msgs []redis.XMessage
	for _, st := range res {
		msgs = append(msgs, st.Messages...)
	}
	return msgs, nil
}

// process 返回是否已处理成功并 ack
func (s *StreamSubscriber) process(ctx context.Context, m redis.XMessage) bool {
	ev, err := decode(m)
	if err != nil {
		logger.Error("drop malformed user change event", zap.String("id", m.ID), zap.Error(err))
		s.deadLetter(ctx, m, err)
		return false
	}

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandlerTimeout)
	err = s.handler(hctx, ev)
	cancel()
	s.observe(ctx, time.Since(start), err)
	if err != nil {
		attempt := s.bumpAttempts(m.ID)
		logger.Warn("handle user change failed",
			zap.String("id", m.ID), zap.String("user_id", ev.UserID), zap.Int("attempt", attempt), zap.Error(err))
		report(err, ev.UserID)
		if attempt >= s.opts.MaxAttempts {
			s.deadLetter(ctx, m, err)
		}
		return false
	}

	if err := s.rdb.XAck(ctx, s.opts.Stream, s.opts.Group, m.ID).Err(); err != nil {
		logger.Warn("ack user change failed", zap.String("id", m.ID), zap.Error(err))
		return false
	}
	s.clearAttempts(m.ID)
	logger.Debug("user change handled",
		zap.String("id", m.ID), zap.String("user_id", ev.UserID), zap.Duration("took", time.Since(start)))
	return true
}

func (s *StreamSubscriber) observe(ctx context.Context, took time.Duration, err error) {
	if s.latency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.latency.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("stream", s.opts.Stream), attribute.String("outcome", outcome)))
}

func decode(m redis.XMessage) (UserChangedEvent, error) {
	var ev UserChangedEvent
	raw, ok := m.Values[payloadField].(string)
	if !ok {
		return ev, fmt.Errorf("missing %q field", payloadField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, err
	}
	if ev.UserID == "" {
		return ev, errors.New("empty user_id")
	}
	return ev, nil
}

// deadLetter 转存到 <stream>.dead 后 ack，避免无限重试
func (s *StreamSubscriber) deadLetter(ctx context.Context, m redis.XMessage, cause error) {
	values := map[string]interface{}{"source_id": m.ID, "error": cause.Error()}
	if raw, ok := m.Values[payloadField]; ok {
		values[payloadField] = raw
	}
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.DeadStream(), Values: values}).Err(); err != nil {
		logger.Error("dead-letter user change failed", zap.String("id", m.ID), zap.Error(err))
		return
	}
	if err := s.rdb.XAck(ctx, s.opts.Stream, s.opts.Group, m.ID).Err(); err != nil {
		logger.Warn("ack dead-lettered user change failed", zap.String("id", m.ID), zap.Error(err))
		return
	}
	s.clearAttempts(m.ID)
}

func (s *StreamSubscriber) DeadStream() string { return s.opts.Stream + ".dead" }

func (s *StreamSubscriber) bumpAttempts(id string) int {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	s.attempts[id]++
	return s.attempts[id]
}

func (s *StreamSubscriber) clearAttempts(id string) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	delete(s.attempts, id)
}

func report(err error, userID string) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("user_id", userID)
		scope.SetTag("path", "reactive")
		hub.CaptureException(err)
	})
}
