package cli

import (
	"github.com/d60-Lab/namesync/config"
	"github.com/d60-Lab/namesync/internal/clock"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/internal/service"
	"github.com/d60-Lab/namesync/pkg/database"
	"github.com/d60-Lab/namesync/pkg/logger"
)

// OpenFromConfig 读取配置、初始化日志并连接数据库
func OpenFromConfig(opts *RootOptions) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	if err := logger.Init(level, "console"); err != nil {
		return nil, err
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}
	syncer := service.NewSyncer(repository.NewDocumentStore(db), service.Options{
		BatchSize:       cfg.Sync.BatchSize,
		CommitRate:      cfg.Sync.CommitRate,
		CostPerWrite:    cfg.Sync.CostPerWrite,
		ContinueOnError: cfg.Sync.ContinueOnError || opts.ContinueOnError,
		Clock:           clk,
	})
	return &Env{
		Runner:      syncer,
		Clock:       clk,
		GracePeriod: cfg.Sync.GracePeriod,
		Close: func() error {
			logger.Sync()
			return sqlDB.Close()
		},
	}, nil
}
