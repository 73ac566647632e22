package service

import (
	"context"

	"github.com/d60-Lab/namesync/internal/model"
	"github.com/d60-Lab/namesync/internal/repository"
)

// 帖子中冗余昵称相关的列
const (
	FieldDisplayName = "display_name"
	FieldUpdatedAt   = "updated_at"
)

// PropagationJob 一次扇出任务：把 DisplayName 写入 Collections 中该用户的所有帖子
type PropagationJob struct {
	UserID      string
	DisplayName string
	Collections []string
}

// PlannedWrites 任务展开后的结果；Scanned 为读取的文档数，Writes 已跳过值相同的文档
type PlannedWrites struct {
	Scanned int
	Writes  []repository.Write
}

// Planner 确定需要更新的目标文档
type Planner struct {
	store       repository.DocumentStore
	collections []string
}

// NewPlanner collections 为空时使用 works + questions
func NewPlanner(store repository.DocumentStore, collections ...string) *Planner {
	if len(collections) == 0 {
		collections = model.PostCollections
	}
	return &Planner{store: store, collections: append([]string(nil), collections...)}
}

// Plan reactive 模式：单个用户
func (p *Planner) Plan(t PropagationTrigger) PropagationJob {
	return PropagationJob{UserID: t.UserID, DisplayName: t.DisplayName, Collections: p.collections}
}

// PlanAll backfill 模式：全量扫描 users，每个用户一个任务
func (p *Planner) PlanAll(ctx context.Context) ([]PropagationJob, error) {
	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]PropagationJob, 0, len(users))
	for _, u := range users {
		jobs = append(jobs, PropagationJob{
			UserID:      u.ID,
			DisplayName: CanonicalDisplayName(u.ID, u.DisplayName),
			Collections: p.collections,
		})
	}
	return jobs, nil
}

// Expand 按 user_id 等值查询每个集合，生成更新；已经等于目标值的文档跳过（写前读过滤）
func (p *Planner) Expand(ctx context.Context, job PropagationJob) (PlannedWrites, error) {
	var out PlannedWrites
	for _, c := range job.Collections {
		posts, err := p.store.QueryByOwner(ctx, c, job.UserID)
		if err != nil {
			return PlannedWrites{}, err
		}
		out.Scanned += len(posts)
		for _, post := range posts {
			if post.DisplayName == job.DisplayName {
				continue
			}
			out.Writes = append(out.Writes, repository.Write{
				Ref: post.Ref,
				Fields: repository.Fields{
					FieldDisplayName: job.DisplayName,
					FieldUpdatedAt:   repository.ServerTimestamp,
				},
			})
		}
	}
	return out, nil
}
