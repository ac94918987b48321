package events

import "social-go/internal/models"

// PushMessageType 定义推送给 WebSocket 客户端的帧类型。
type PushMessageType string

const (
	PushFriendshipStatus PushMessageType = "friendship_status"
	PushNotification     PushMessageType = "notification"
)

// PushMessage 是 syncserver 通过 WebSocket 推送给浏览器的出站帧。
type PushMessage struct {
	Type         PushMessageType      `json:"type"`
	ReceiverID   uint                 `json:"receiverId"`
	Status       *models.StatusUpdate `json:"status,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// ObserveAction 是客户端在 WebSocket 上发来的订阅控制帧。
// Action 为 "observe" 时获取对指定用户对的状态订阅，
// "unobserve" 时释放它；连接断开会释放该连接持有的全部订阅。
type ObserveAction struct {
	Action string `json:"action"` // observe | unobserve
	UserID uint   `json:"userId"` // 对端用户
}
