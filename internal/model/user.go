package model

import "time"

const CollectionUsers = "users"

// User 用户资料（由资料编辑功能维护，同步子系统只读 DisplayName）
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	DisplayName string    `gorm:"type:varchar(255)"`
	Bio         string    `gorm:"type:text"`
	PhotoURL    string    `gorm:"type:varchar(512)"`
	Stats       UserStats `gorm:"embedded;embeddedPrefix:stats_"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string { return CollectionUsers }

// UserStats 计数器，由 stats 对账任务修正
type UserStats struct {
	Works     int64 `gorm:"not null;default:0"`
	Questions int64 `gorm:"not null;default:0"`
}

// 对账写入使用的列名
const (
	ColumnStatsWorks     = "stats_works"
	ColumnStatsQuestions = "stats_questions"
)
