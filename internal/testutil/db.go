// Package testutil 各包测试共用的数据库夹具
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/namesync/internal/model"
	"github.com/d60-Lab/namesync/pkg/database"
)

// NewDB 打开测试私有的内存 SQLite 并完成迁移。
// 只保留一个连接，并发提交的批次串行执行，避免 SQLITE_BUSY。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser 插入指定昵称的用户
func SeedUser(t testing.TB, db *gorm.DB, id, displayName string) *model.User {
	t.Helper()
	u := &model.User{ID: id, DisplayName: displayName}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

// SeedPosts 向 collection 插入 n 条属于 userID 的帖子，冗余昵称均为 cachedName；
// 帖子 ID 为 <prefix>-<序号>
func SeedPosts(t testing.TB, db *gorm.DB, collection, prefix, userID, cachedName string, n int) {
	t.Helper()
	rows := make([]model.Post, n)
	for i := range rows {
		rows[i] = model.Post{
			ID:          fmt.Sprintf("%s-%04d", prefix, i),
			UserID:      userID,
			DisplayName: cachedName,
			Title:       fmt.Sprintf("post %d", i),
		}
	}
	if n == 0 {
		return
	}
	if err := db.Table(collection).CreateInBatches(rows, 200).Error; err != nil {
		t.Fatalf("seed %s: %v", collection, err)
	}
}

// CachedNames 返回 collection 中每条帖子的冗余昵称，按帖子 ID 索引
func CachedNames(t testing.TB, db *gorm.DB, collection string) map[string]string {
	t.Helper()
	var rows []model.Post
	if err := db.Table(collection).Find(&rows).Error; err != nil {
		t.Fatalf("read %s: %v", collection, err)
	}
	res := make(map[string]string, len(rows))
	for _, r := range rows {
		res[r.ID] = r.DisplayName
	}
	return res
}
