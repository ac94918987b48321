package events

import "social-go/internal/models"

// FriendshipEventKind 标识一次好友关系变更的种类。
type FriendshipEventKind string

const (
	FriendshipRequested FriendshipEventKind = "requested"
	FriendshipAccepted  FriendshipEventKind = "accepted"
	FriendshipRejected  FriendshipEventKind = "rejected"
	FriendshipCancelled FriendshipEventKind = "cancelled"
	FriendshipRemoved   FriendshipEventKind = "removed"
)

// FriendshipEvent 是好友同步器在实时树写入成功后发布到 Kafka 的出站
// 事件（outbox 模式）。syncserver 消费它来写持久化镜像、触发通知
// fan-out 并向双方在线连接推送状态更新。事件发布失败不回滚实时树
// 写入：实时树是唯一权威，镜像只是审计日志。
type FriendshipEvent struct {
	Kind       FriendshipEventKind      `json:"kind"`
	PairKey    string                   `json:"pairKey"`
	ActorID    uint                     `json:"actorId"` // 触发本次变更的用户
	PeerID     uint                     `json:"peerId"`
	Record     *models.FriendshipRecord `json:"record,omitempty"` // 删除类事件为空
	OccurredAt int64                    `json:"occurredAt"`       // epoch 毫秒
	ActorName  string                   `json:"actorName,omitempty"`
	ActorImage string                   `json:"actorImage,omitempty"`
}
