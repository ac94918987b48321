package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	confluentkafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"social-go/internal/events"
	"social-go/internal/models"
	"social-go/internal/services"
	"social-go/internal/storage"
	ws "social-go/internal/websocket"
)

// FriendshipEventHandler 消费好友关系变更事件（outbox），依次完成：
// 1. 写 Postgres 持久化镜像（幂等 upsert / 删除，事件可重放）；
// 2. 触发通知 fan-out（尽力而为，失败记录日志后继续）；
// 3. 向双方在线的 WebSocket 连接推送状态更新。
// 只有镜像写入失败才返回错误并阻止 offset 提交。
type FriendshipEventHandler struct {
	mirrorRepo          storage.FriendshipMirrorRepository
	notificationService services.NotificationService
	hub                 *ws.Hub
}

// NewFriendshipEventHandler 创建一个新的 FriendshipEventHandler 实例。
func NewFriendshipEventHandler(
	mirrorRepo storage.FriendshipMirrorRepository,
	notificationService services.NotificationService,
	hub *ws.Hub,
) *FriendshipEventHandler {
	return &FriendshipEventHandler{
		mirrorRepo:          mirrorRepo,
		notificationService: notificationService,
		hub:                 hub,
	}
}

// Handle 是传递给 Kafka 消费者的 MessageHandler。
func (h *FriendshipEventHandler) Handle(ctx context.Context, msg *confluentkafka.Message) error {
	var event events.FriendshipEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 无法解析的消息重放也不会成功，记录后吞掉以免卡死分区。
		log.Printf("错误: 无法反序列化好友关系事件 (Offset: %v): %v", msg.TopicPartition.Offset, err)
		return nil
	}

	log.Printf("收到好友关系事件: kind=%s pairKey=%s actor=%d peer=%d", event.Kind, event.PairKey, event.ActorID, event.PeerID)

	// 1. 持久化镜像
	if err := h.applyMirror(ctx, &event); err != nil {
		return fmt.Errorf("写入好友关系镜像失败 (pairKey=%s): %w", event.PairKey, err)
	}

	// 2. 通知 fan-out（尽力而为）
	h.fanOutNotification(ctx, &event)

	// 3. 在线推送
	h.pushStatus(&event)

	return nil
}

// applyMirror 把事件折叠进 friendship_mirrors 表。
func (h *FriendshipEventHandler) applyMirror(ctx context.Context, event *events.FriendshipEvent) error {
	switch event.Kind {
	case events.FriendshipCancelled, events.FriendshipRemoved:
		return h.mirrorRepo.DeleteByPairKey(ctx, event.PairKey)

	case events.FriendshipRequested, events.FriendshipAccepted, events.FriendshipRejected:
		if event.Record == nil {
			return fmt.Errorf("事件 %s 缺少记录内容", event.Kind)
		}
		mirror := &models.FriendshipMirror{
			PairKey:     event.PairKey,
			User1ID:     event.Record.User1ID,
			User2ID:     event.Record.User2ID,
			Status:      event.Record.Status,
			RequestedBy: event.Record.RequestedBy,
		}
		if event.Record.AcceptedAt > 0 {
			t := time.UnixMilli(event.Record.AcceptedAt)
			mirror.AcceptedAt = &t
		}
		if event.Record.RejectedAt > 0 {
			t := time.UnixMilli(event.Record.RejectedAt)
			mirror.RejectedAt = &t
		}
		return h.mirrorRepo.Upsert(ctx, mirror)

	default:
		log.Printf("警告: 未知的好友关系事件种类 %q，已跳过镜像写入。", event.Kind)
		return nil
	}
}

// fanOutNotification 根据事件种类向对端写入通知。
// 取消和删除好友不产生通知。
func (h *FriendshipEventHandler) fanOutNotification(ctx context.Context, event *events.FriendshipEvent) {
	var input services.NotificationInput
	switch event.Kind {
	case events.FriendshipRequested:
		input = services.NotificationInput{
			Type:    models.NotificationFriendRequest,
			Title:   "新的好友请求",
			Message: fmt.Sprintf("%s 向你发送了好友请求", event.ActorName),
		}
	case events.FriendshipAccepted:
		input = services.NotificationInput{
			Type:    models.NotificationFriendRequestAccepted,
			Title:   "好友请求已接受",
			Message: fmt.Sprintf("%s 接受了你的好友请求", event.ActorName),
		}
	case events.FriendshipRejected:
		input = services.NotificationInput{
			Type:    models.NotificationFriendRequestRejected,
			Title:   "好友请求已拒绝",
			Message: fmt.Sprintf("%s 拒绝了你的好友请求", event.ActorName),
		}
	default:
		return
	}

	input.SenderID = event.ActorID
	input.SenderName = event.ActorName
	input.SenderImage = event.ActorImage
	input.Data = map[string]string{"pairKey": event.PairKey}

	notification, err := h.notificationService.Notify(ctx, event.PeerID, input)
	if err != nil {
		log.Printf("警告: 好友关系事件 %s 的通知 fan-out 失败 (接收者 %d): %v", event.Kind, event.PeerID, err)
		return
	}

	// 收件箱写入成功后再把通知本体推给在线连接。
	h.hub.DeliverPush(&events.PushMessage{
		Type:         events.PushNotification,
		ReceiverID:   event.PeerID,
		Notification: notification,
	})
}

// pushStatus 把派生状态推送给双方的在线连接。
func (h *FriendshipEventHandler) pushStatus(event *events.FriendshipEvent) {
	for _, userID := range []uint{event.ActorID, event.PeerID} {
		update := models.StatusUpdate{
			PairKey:   event.PairKey,
			Status:    event.Record.Derive(), // Record 为 nil 时派生为 none
			Timestamp: time.UnixMilli(event.OccurredAt),
		}
		if event.Record != nil {
			update.RequestedBy = event.Record.RequestedBy
			update.Record = event.Record
		}
		h.hub.DeliverPush(&events.PushMessage{
			Type:       events.PushFriendshipStatus,
			ReceiverID: userID,
			Status:     &update,
		})
	}
}
