package handler

import (
	"context"

	"github.com/d60-Lab/namesync/internal/service"
)

// Pinger 健康检查依赖（数据库、Redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 把函数适配为 Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	syncer *service.Syncer
	checks map[string]Pinger
}

func New(syncer *service.Syncer, checks map[string]Pinger) *Handler {
	return &Handler{syncer: syncer, checks: checks}
}
