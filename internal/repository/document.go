package repository

import (
	"errors"
	"fmt"
)

// MaxBatchWrites 数据库单个原子批次允许的最大写操作数
const MaxBatchWrites = 500

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrBatchTooLarge     = errors.New("batch exceeds store limit")
	ErrUnknownCollection = errors.New("unknown collection")
)

// DocRef 指向某集合中的一个文档
type DocRef struct {
	Collection string
	ID         string
}

func (r DocRef) String() string { return r.Collection + "/" + r.ID }

// Fields 待更新的字段（列名 -> 值）
type Fields map[string]interface{}

type serverTimestamp struct{}

// ServerTimestamp 写入时由数据库填充当前时间
var ServerTimestamp = serverTimestamp{}

// Write 批次中的一条更新
type Write struct {
	Ref    DocRef
	Fields Fields
}

// PostSnapshot 帖子在同步中关心的字段
type PostSnapshot struct {
	Ref         DocRef
	UserID      string
	DisplayName string
}

// StoreError 访问文档库失败（网络、超时等），上层按可重试错误处理
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
