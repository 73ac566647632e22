package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/namesync/internal/clock"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/pkg/logger"
)

var ErrBackfillIncomplete = errors.New("backfill incomplete")

// Options 同步参数
type Options struct {
	BatchSize       int
	CommitRate      float64
	CostPerWrite    float64
	ContinueOnError bool
	Collections     []string
	Clock           clock.Clock
}

// Syncer 串联 DetectChange -> Planner -> BatchWriter，覆盖 reactive、backfill、dry-run 三条路径。
// 每次调用无共享可变状态；并发调用之间不做协调，依靠写前比较实现幂等收敛。
type Syncer struct {
	store           repository.DocumentStore
	planner         *Planner
	writer          *BatchWriter
	costPerWrite    float64
	continueOnError bool
	clock           clock.Clock
	tracer          trace.Tracer
}

func NewSyncer(store repository.DocumentStore, opts Options) *Syncer {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Syncer{
		store:           store,
		planner:         NewPlanner(store, opts.Collections...),
		writer:          NewBatchWriter(store, opts.BatchSize, opts.CommitRate),
		costPerWrite:    opts.CostPerWrite,
		continueOnError: opts.ContinueOnError,
		clock:           opts.Clock,
		tracer:          otel.Tracer("github.com/d60-Lab/namesync/internal/service"),
	}
}

// Result reactive 路径的返回
type Result struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

// HandleUserUpdate reactive 路径：由用户文档变更事件触发。
// displayName 未变化时直接返回，不访问文档库。
// 检测到变更后以 users 中的当前记录为准计算目标昵称，事件里的 after 只作为触发信号，
// 因此乱序或重投的旧事件不会把帖子改回旧昵称；用户已删除时不写入。
func (s *Syncer) HandleUserUpdate(ctx context.Context, userID string, before, after *UserSnapshot) (Result, error) {
	trig, ok := DetectChange(userID, before, after)
	if !ok {
		logger.Debug("display name unchanged, skip", zap.String("user_id", userID))
		return Result{Success: true}, nil
	}

	ctx, span := s.tracer.Start(ctx, "namesync.HandleUserUpdate", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		logger.Info("user no longer exists, skip", zap.String("user_id", userID))
		return Result{Success: true}, nil
	}
	if err != nil {
		fail(span, err)
		return Result{}, err
	}
	current := CanonicalDisplayName(userID, user.DisplayName)
	if current != trig.DisplayName {
		logger.Info("stale user change event, using current display name",
			zap.String("user_id", userID), zap.String("event", trig.DisplayName), zap.String("current", current))
		trig.DisplayName = current
	}

	job := s.planner.Plan(trig)
	planned, err := s.planner.Expand(ctx, job)
	if err != nil {
		fail(span, err)
		return Result{}, err
	}
	res, err := s.writer.Commit(ctx, planned.Writes)
	span.SetAttributes(attribute.Int("updated", res.Committed), attribute.Int("batches", res.Batches))
	if err != nil {
		fail(span, err)
		logger.Error("propagate display name failed",
			zap.String("user_id", userID), zap.Int("committed", res.Committed), zap.Error(err))
		return Result{Updated: res.Committed}, err
	}
	logger.Info("display name propagated",
		zap.String("user_id", userID),
		zap.Int("scanned", planned.Scanned),
		zap.Int("updated", res.Committed),
		zap.Int("batches", res.Batches))
	return Result{Success: true, Updated: res.Committed}, nil
}

// UserFailure continue-on-error 模式下记录的单用户失败
type UserFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// RunReport backfill / dry-run 汇总
type RunReport struct {
	RunID         string        `json:"run_id"`
	DryRun        bool          `json:"dry_run"`
	Users         int           `json:"users"`
	Scanned       int           `json:"scanned"`
	NeedsUpdate   int           `json:"needs_update"`
	Updated       int           `json:"updated"`
	Batches       int           `json:"batches"`
	EstimatedCost float64       `json:"estimated_cost"`
	Failures      []UserFailure `json:"failures,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Backfill 对所有用户重新计算昵称并修正帖子中的冗余副本；可重复执行
func (s *Syncer) Backfill(ctx context.Context) (*RunReport, error) {
	return s.run(ctx, false)
}

// DryRun 与 Backfill 相同的规划逻辑，只计数不写入
func (s *Syncer) DryRun(ctx context.Context) (*RunReport, error) {
	return s.run(ctx, true)
}

func (s *Syncer) run(ctx context.Context, dryRun bool) (*RunReport, error) {
	start := s.clock.Now()
	report := &RunReport{RunID: uuid.NewString(), DryRun: dryRun}
	log := logger.L().With(zap.String("run_id", report.RunID), zap.Bool("dry_run", dryRun))

	ctx, span := s.tracer.Start(ctx, "namesync.Backfill", trace.WithAttributes(
		attribute.String("run_id", report.RunID), attribute.Bool("dry_run", dryRun)))
	defer span.End()

	jobs, err := s.planner.PlanAll(ctx)
	if err != nil {
		fail(span, err)
		return report, fmt.Errorf("enumerate users: %w", err)
	}
	report.Users = len(jobs)
	log.Info("backfill started", zap.Int("users", len(jobs)))

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			fail(span, err)
			return s.finish(report, start), err
		}
		if err := s.runJob(ctx, job, dryRun, report); err != nil {
			if !s.continueOnError {
				fail(span, err)
				log.Error("backfill aborted", zap.String("user_id", job.UserID), zap.Error(err))
				return s.finish(report, start), fmt.Errorf("backfill user %s: %w", job.UserID, err)
			}
			log.Warn("backfill user failed", zap.String("user_id", job.UserID), zap.Error(err))
			report.Failures = append(report.Failures, UserFailure{UserID: job.UserID, Error: err.Error()})
		}
	}

	s.finish(report, start)
	span.SetAttributes(attribute.Int("needs_update", report.NeedsUpdate), attribute.Int("updated", report.Updated))
	log.Info("backfill finished",
		zap.Int("users", report.Users),
		zap.Int("scanned", report.Scanned),
		zap.Int("needs_update", report.NeedsUpdate),
		zap.Int("updated", report.Updated),
		zap.Int("batches", report.Batches),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.Duration))
	if len(report.Failures) > 0 {
		err := fmt.Errorf("%w: %d of %d users failed", ErrBackfillIncomplete, len(report.Failures), report.Users)
		fail(span, err)
		return report, err
	}
	return report, nil
}

func (s *Syncer) runJob(ctx context.Context, job PropagationJob, dryRun bool, report *RunReport) error {
	planned, err := s.planner.Expand(ctx, job)
	if err != nil {
		return err
	}
	report.Scanned += planned.Scanned
	report.NeedsUpdate += len(planned.Writes)
	if len(planned.Writes) == 0 {
		return nil
	}
	if dryRun {
		report.Batches += len(s.writer.Split(planned.Writes))
		return nil
	}
	res, err := s.writer.Commit(ctx, planned.Writes)
	report.Updated += res.Committed
	report.Batches += res.Batches
	return err
}

func (s *Syncer) finish(report *RunReport, start time.Time) *RunReport {
	report.EstimatedCost = float64(report.NeedsUpdate) * s.costPerWrite
	report.Duration = s.clock.Now().Sub(start)
	return report
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
