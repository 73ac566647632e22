package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/namesync/internal/model"
)

// DocumentStore 文档库适配层：按 id 读取、等值查询、计数、原子批量更新
type DocumentStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	QueryByOwner(ctx context.Context, collection, userID string) ([]PostSnapshot, error)
	CountByOwner(ctx context.Context, collection, userID string) (int64, error)
	CommitBatch(ctx context.Context, writes []Write) error
}

var knownCollections = map[string]bool{
	model.CollectionUsers:     true,
	model.CollectionWorks:     true,
	model.CollectionQuestions: true,
}

type documentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) DocumentStore { return &documentStore{db: db} }

func (s *documentStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Collection: model.CollectionUsers, Err: err}
	}
	return &u, nil
}

// ListUsers 全量扫描 users（离线维护任务使用）
func (s *documentStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	var res []*model.User
	if err := s.db.WithContext(ctx).Order("id").Find(&res).Error; err != nil {
		return nil, &StoreError{Op: "list", Collection: model.CollectionUsers, Err: err}
	}
	return res, nil
}

func (s *documentStore) QueryByOwner(ctx context.Context, collection, userID string) ([]PostSnapshot, error) {
	if !knownCollections[collection] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	var rows []model.Post
	err := s.db.WithContext(ctx).
		Table(collection).
		Select("id", "user_id", "display_name").
		Where("user_id = ?", userID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, &StoreError{Op: "query", Collection: collection, Err: err}
	}
	res := make([]PostSnapshot, len(rows))
	for i, r := range rows {
		res[i] = PostSnapshot{Ref: DocRef{Collection: collection, ID: r.ID}, UserID: r.UserID, DisplayName: r.DisplayName}
	}
	return res, nil
}

func (s *documentStore) CountByOwner(ctx context.Context, collection, userID string) (int64, error) {
	if !knownCollections[collection] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	var cnt int64
	if err := s.db.WithContext(ctx).Table(collection).Where("user_id = ?", userID).Count(&cnt).Error; err != nil {
		return 0, &StoreError{Op: "count", Collection: collection, Err: err}
	}
	return cnt, nil
}

// CommitBatch 在一个事务内应用全部更新：要么全部生效，要么全部不生效。
// 目标文档不存在时整批失败。
func (s *documentStore) CommitBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > MaxBatchWrites {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(writes), MaxBatchWrites)
	}
	for _, w := range writes {
		if !knownCollections[w.Ref.Collection] {
			return fmt.Errorf("%w: %s", ErrUnknownCollection, w.Ref.Collection)
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			res := tx.Table(w.Ref.Collection).Where("id = ?", w.Ref.ID).Updates(toColumns(w.Fields))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%s: %w", w.Ref, ErrDocumentNotFound)
			}
		}
		return nil
	})
	if err == nil || errors.Is(err, ErrDocumentNotFound) {
		return err
	}
	return &StoreError{Op: "commit", Err: err}
}

func toColumns(f Fields) map[string]interface{} {
	cols := make(map[string]interface{}, len(f))
	for k, v := range f {
		if _, ok := v.(serverTimestamp); ok {
			cols[k] = gorm.Expr("CURRENT_TIMESTAMP")
			continue
		}
		cols[k] = v
	}
	return cols
}
