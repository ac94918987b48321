package models

import "time"

// FriendshipMirror 是好友关系在 Postgres 中的持久化镜像（审计副本）。
// 它由 syncserver 消费 Kafka 事件异步写入，永远不用于回答实时状态查询，
// 这样实时树写入成功而镜像写入失败时也不会出现双源分歧。
type FriendshipMirror struct {
	BaseModel
	PairKey     string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"pairKey"`
	User1ID     uint             `gorm:"not null;index" json:"user1Id"` // 请求发起方
	User2ID     uint             `gorm:"not null;index" json:"user2Id"` // 请求接收方
	Status      FriendshipStatus `gorm:"type:varchar(20);not null" json:"status"`
	RequestedBy uint             `gorm:"not null" json:"requestedBy"`
	AcceptedAt  *time.Time       `json:"acceptedAt,omitempty"`
	RejectedAt  *time.Time       `json:"rejectedAt,omitempty"`
}

// TableName 指定 FriendshipMirror 模型的表名。
func (FriendshipMirror) TableName() string {
	return "friendship_mirrors"
}
