package models

import (
	"fmt"
	"time"
)

// FriendshipStatus 定义好友关系记录的存储状态
type FriendshipStatus string

const (
	FriendshipStatusPending  FriendshipStatus = "pending"
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	FriendshipStatusRejected FriendshipStatus = "rejected"
)

// DerivedStatus 是对外暴露的派生状态。没有记录时为 "none"，
// accepted 对外显示为 "friends"。
type DerivedStatus string

const (
	DerivedStatusNone    DerivedStatus = "none"
	DerivedStatusPending DerivedStatus = "pending"
	DerivedStatusFriends DerivedStatus = "friends"
)

// PairKey returns the deterministic key for an unordered user pair.
// PairKey(a, b) == PairKey(b, a); the smaller ID always comes first, so
// exactly one record can exist per pair.
func PairKey(userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%d:%d", userID1, userID2)
}

// FriendshipRecord 是实时树中 friendships/{pairKey} 节点的内容。
// 它是好友关系实时状态的唯一权威来源；Postgres 镜像只做审计。
//
// User1 永远是请求发起方，User2 是接收方，与 pair key 的排序无关。
// 昵称和头像是创建时写入的展示占位，不保证与用户资料同步，渲染时应按
// ID 重新拉取权威资料。
type FriendshipRecord struct {
	ID          string           `json:"id"` // pair key
	User1ID     uint             `json:"user1Id"`
	User2ID     uint             `json:"user2Id"`
	User1Name   string           `json:"user1Name,omitempty"`
	User1Image  string           `json:"user1Image,omitempty"`
	User2Name   string           `json:"user2Name,omitempty"`
	User2Image  string           `json:"user2Image,omitempty"`
	Status      FriendshipStatus `json:"status"`
	RequestedBy uint             `json:"requestedBy"`
	CreatedAt   int64            `json:"createdAt"` // epoch 毫秒
	UpdatedAt   int64            `json:"updatedAt"`
	AcceptedAt  int64            `json:"acceptedAt,omitempty"`
	RejectedAt  int64            `json:"rejectedAt,omitempty"`
}

// Derive maps a stored status onto the display status.
func (r *FriendshipRecord) Derive() DerivedStatus {
	if r == nil {
		return DerivedStatusNone
	}
	switch r.Status {
	case FriendshipStatusAccepted:
		return DerivedStatusFriends
	case FriendshipStatusPending:
		return DerivedStatusPending
	default:
		// rejected 对双方都显示为 none，直到记录被重建
		return DerivedStatusNone
	}
}

// DisplayInfo returns the denormalized name and avatar stored on the
// record for the given user, whichever side of the pair they are on.
func (r *FriendshipRecord) DisplayInfo(userID uint) (name, image string) {
	if r.User1ID == userID {
		return r.User1Name, r.User1Image
	}
	return r.User2Name, r.User2Image
}

// OtherUserID returns the peer for the given side of the record.
func (r *FriendshipRecord) OtherUserID(selfID uint) uint {
	if r.User1ID == selfID {
		return r.User2ID
	}
	return r.User1ID
}

// StatusUpdate 是 Observe 流中推送的一次状态变化。
// RequestedBy 随每次更新携带，"谁发起的" 永远从订阅流派生，
// 不做一次性的旁路读取。
type StatusUpdate struct {
	PairKey     string            `json:"pairKey"`
	Status      DerivedStatus     `json:"status"`
	RequestedBy uint              `json:"requestedBy,omitempty"`
	Record      *FriendshipRecord `json:"record,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SentBySelf reports whether the pending request was sent by selfID.
// Only meaningful while Status is pending.
func (u *StatusUpdate) SentBySelf(selfID uint) bool {
	return u.RequestedBy != 0 && u.RequestedBy == selfID
}
