package models

// NotificationType 是通知的类型标签。
type NotificationType string

const (
	NotificationFriendRequest         NotificationType = "friend_request"
	NotificationFriendRequestAccepted NotificationType = "friend_request_accepted"
	NotificationFriendRequestRejected NotificationType = "friend_request_rejected"
	NotificationNewMessage            NotificationType = "new_message"
	NotificationJobApplication        NotificationType = "job_application"
)

// Notification 是实时树中 notifications/{recipientID}/{id} 节点的内容。
// 由 fan-out 组件一次性创建；之后只允许翻转 Read 标记或整条删除，
// 没有 TTL。
type Notification struct {
	ID          string           `json:"id"` // notif_<unixmilli>_<random>
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	SenderID    uint             `json:"senderId"`
	SenderName  string           `json:"senderName,omitempty"`
	SenderImage string           `json:"senderImage,omitempty"`
	Timestamp   int64            `json:"timestamp"` // epoch 毫秒
	Read        bool             `json:"read"`
	// Data 回显触发实体的标识，例如 {"pairKey": "1:2"}。
	Data map[string]string `json:"data,omitempty"`
}
