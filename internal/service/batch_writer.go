package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/d60-Lab/namesync/internal/repository"
)

// DefaultBatchSize 比数据库上限 500 少 1，留出余量
const DefaultBatchSize = repository.MaxBatchWrites - 1

// BatchCommitter 原子提交一个批次
type BatchCommitter interface {
	CommitBatch(ctx context.Context, writes []repository.Write) error
}

// CommitResult 成功提交的写入数与批次数
type CommitResult struct {
	Committed int `json:"committed"`
	Batches   int `json:"batches"`
}

// BatchCommitError 部分批次失败；已提交的批次不会回滚，重跑任务即可收敛
type BatchCommitError struct {
	Batches       int
	FailedBatches int
	Committed     int
	Failed        int
	Errs          []error
}

func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("commit batches: %d of %d failed (%d writes committed, %d writes not applied): %v",
		e.FailedBatches, e.Batches, e.Committed, e.Failed, errors.Join(e.Errs...))
}

func (e *BatchCommitError) Unwrap() []error { return e.Errs }

// BatchWriter 把写入按 size 分批，各批次并发提交
type BatchWriter struct {
	committer BatchCommitter
	size      int
	limiter   *rate.Limiter
}

// NewBatchWriter size<=0 时使用 DefaultBatchSize；commitRate>0 时限制每秒提交的批次数
func NewBatchWriter(committer BatchCommitter, size int, commitRate float64) *BatchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > repository.MaxBatchWrites {
		size = repository.MaxBatchWrites
	}
	w := &BatchWriter{committer: committer, size: size}
	if commitRate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(commitRate), 1)
	}
	return w
}

func (w *BatchWriter) Size() int { return w.size }

// batchAccumulator 按顺序累积写入，计数达到上限时封口
type batchAccumulator struct {
	size    int
	pending []repository.Write
	sealed  [][]repository.Write
}

func (a *batchAccumulator) add(wr repository.Write) {
	a.pending = append(a.pending, wr)
	if len(a.pending) >= a.size {
		a.seal()
	}
}

func (a *batchAccumulator) seal() {
	if len(a.pending) == 0 {
		return
	}
	a.sealed = append(a.sealed, a.pending)
	a.pending = make([]repository.Write, 0, a.size)
}

// Split 按文档枚举顺序切分批次
func (w *BatchWriter) Split(writes []repository.Write) [][]repository.Write {
	acc := &batchAccumulator{size: w.size}
	for _, wr := range writes {
		acc.add(wr)
	}
	acc.seal()
	return acc.sealed
}

// Commit 并发提交所有批次并等待全部完成；任一批次失败时返回 *BatchCommitError
func (w *BatchWriter) Commit(ctx context.Context, writes []repository.Write) (CommitResult, error) {
	batches := w.Split(writes)
	if len(batches) == 0 {
		return CommitResult{}, nil
	}

	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				for j := i; j < len(batches); j++ {
					errs[j] = err
				}
				break
			}
		}
		wg.Add(1)
		go func(i int, b []repository.Write) {
			defer wg.Done()
			errs[i] = w.committer.CommitBatch(ctx, b)
		}(i, b)
	}
	wg.Wait()

	var res CommitResult
	failure := &BatchCommitError{Batches: len(batches)}
	for i, b := range batches {
		if errs[i] != nil {
			failure.FailedBatches++
			failure.Failed += len(b)
			failure.Errs = append(failure.Errs, errs[i])
			continue
		}
		res.Batches++
		res.Committed += len(b)
	}
	if failure.FailedBatches > 0 {
		failure.Committed = res.Committed
		return res, failure
	}
	return res, nil
}
