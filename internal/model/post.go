package model

import "time"

// 帖子集合：works 与 questions 结构相同，同步规则相同
const (
	CollectionWorks     = "works"
	CollectionQuestions = "questions"
)

// PostCollections 缓存了作者 displayName 的集合
var PostCollections = []string{CollectionWorks, CollectionQuestions}

// Post 帖子（works / questions 共用），DisplayName 为作者昵称的冗余副本
type Post struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	UserID      string    `gorm:"type:varchar(64);index;not null"`
	DisplayName string    `gorm:"type:varchar(255)"`
	Title       string    `gorm:"type:varchar(255)"`
	Body        string    `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Work 作品
type Work struct{ Post }

func (Work) TableName() string { return CollectionWorks }

// Question 提问
type Question struct{ Post }

func (Question) TableName() string { return CollectionQuestions }

// PostModels 用于迁移，与 PostCollections 一一对应
func PostModels() []interface{} {
	return []interface{}{&Work{}, &Question{}}
}
