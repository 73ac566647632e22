package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/namesync/internal/model"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/pkg/logger"
)

// StatsReport 计数对账汇总
type StatsReport struct {
	RunID         string        `json:"run_id"`
	DryRun        bool          `json:"dry_run"`
	Users         int           `json:"users"`
	Mismatched    int           `json:"mismatched"`
	Updated       int           `json:"updated"`
	Batches       int           `json:"batches"`
	EstimatedCost float64       `json:"estimated_cost"`
	Duration      time.Duration `json:"duration"`
}

// ReconcileStats 按集合重新计数每个用户的帖子数，仅在与 users.stats 不一致时写回。
// 写入与 backfill 共用 BatchWriter。
func (s *Syncer) ReconcileStats(ctx context.Context, dryRun bool) (*StatsReport, error) {
	start := s.clock.Now()
	report := &StatsReport{RunID: uuid.NewString(), DryRun: dryRun}
	log := logger.L().With(zap.String("run_id", report.RunID), zap.Bool("dry_run", dryRun))

	ctx, span := s.tracer.Start(ctx, "namesync.ReconcileStats", trace.WithAttributes(
		attribute.String("run_id", report.RunID), attribute.Bool("dry_run", dryRun)))
	defer span.End()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		fail(span, err)
		return report, fmt.Errorf("enumerate users: %w", err)
	}
	report.Users = len(users)

	var writes []repository.Write
	for _, u := range users {
		works, err := s.store.CountByOwner(ctx, model.CollectionWorks, u.ID)
		if err != nil {
			fail(span, err)
			return report, err
		}
		questions, err := s.store.CountByOwner(ctx, model.CollectionQuestions, u.ID)
		if err != nil {
			fail(span, err)
			return report, err
		}
		if works == u.Stats.Works && questions == u.Stats.Questions {
			continue
		}
		log.Info("stats mismatch",
			zap.String("user_id", u.ID),
			zap.Int64("saved_works", u.Stats.Works), zap.Int64("actual_works", works),
			zap.Int64("saved_questions", u.Stats.Questions), zap.Int64("actual_questions", questions))
		writes = append(writes, repository.Write{
			Ref: repository.DocRef{Collection: model.CollectionUsers, ID: u.ID},
			Fields: repository.Fields{
				model.ColumnStatsWorks:     works,
				model.ColumnStatsQuestions: questions,
				FieldUpdatedAt:             repository.ServerTimestamp,
			},
		})
	}
	report.Mismatched = len(writes)
	report.EstimatedCost = float64(len(writes)) * s.costPerWrite

	if dryRun {
		report.Batches = len(s.writer.Split(writes))
		report.Duration = s.clock.Now().Sub(start)
		return report, nil
	}

	res, err := s.writer.Commit(ctx, writes)
	report.Updated = res.Committed
	report.Batches = res.Batches
	report.Duration = s.clock.Now().Sub(start)
	if err != nil {
		fail(span, err)
		log.Error("stats reconcile failed", zap.Int("committed", res.Committed), zap.Error(err))
		return report, err
	}
	log.Info("stats reconciled",
		zap.Int("users", report.Users),
		zap.Int("mismatched", report.Mismatched),
		zap.Int("updated", report.Updated),
		zap.Duration("duration", report.Duration))
	return report, nil
}
