package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"social-go/internal/models"
	"social-go/internal/push"
	"social-go/internal/realtime"
)

var (
	ErrNotificationNotFound = errors.New("通知不存在")
)

// NotificationInput 是触发一次 fan-out 所需的全部信息。
// ID、时间戳和 read 标记由服务自己生成。
type NotificationInput struct {
	Type        models.NotificationType
	Title       string
	Message     string
	SenderID    uint
	SenderName  string
	SenderImage string
	Data        map[string]string
}

// NotificationService 是通知 fan-out 组件：把类型化的通知记录追加到
// 接收者的实时收件箱。Notify 的实时写入是主路径；推送网关旁路通道是
// 尽力而为的，失败会被记录并吞掉。已读/删除是收件箱拥有者的点操作。
type NotificationService interface {
	// Notify 在接收者收件箱下追加一条新记录并返回它。
	Notify(ctx context.Context, recipientID uint, input NotificationInput) (*models.Notification, error)

	// MarkRead 把一条通知的 read 标记翻转为 true。
	MarkRead(ctx context.Context, recipientID uint, notificationID string) error

	// Delete 删除接收者收件箱中的一条通知。
	Delete(ctx context.Context, recipientID uint, notificationID string) error

	// List 按时间倒序返回接收者收件箱的全部通知。
	List(ctx context.Context, recipientID uint) ([]*models.Notification, error)
}

// NotificationInboxPrefix returns the realtime-tree prefix of a user's inbox.
func NotificationInboxPrefix(recipientID uint) string {
	return fmt.Sprintf("notifications/%d/", recipientID)
}

// NotificationPath returns the realtime-tree path of a single notification.
func NotificationPath(recipientID uint, notificationID string) string {
	return NotificationInboxPrefix(recipientID) + notificationID
}

type notificationService struct {
	tree       realtime.TreeClient
	pushClient push.Client // 可为 nil（旁路通道关闭）
	now        func() time.Time
}

// NewNotificationService creates a new NotificationService instance.
func NewNotificationService(tree realtime.TreeClient, pushClient push.Client) NotificationService {
	return &notificationService{
		tree:       tree,
		pushClient: pushClient,
		now:        time.Now,
	}
}

// Notify 生成 id 和时间戳，写入收件箱节点，并向收件箱通道发布快照。
// 每次调用在收件箱下产生恰好一条新记录。
func (s *notificationService) Notify(ctx context.Context, recipientID uint, input NotificationInput) (*models.Notification, error) {
	nowMs := s.now().UnixMilli()
	notification := &models.Notification{
		ID:          fmt.Sprintf("notif_%d_%s", nowMs, uuid.NewString()[:8]),
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		SenderID:    input.SenderID,
		SenderName:  input.SenderName,
		SenderImage: input.SenderImage,
		Timestamp:   nowMs,
		Read:        false,
		Data:        input.Data,
	}

	path := NotificationPath(recipientID, notification.ID)
	if err := s.tree.Set(ctx, path, notification); err != nil {
		return nil, fmt.Errorf("写入通知 %s 失败: %w", path, err)
	}

	// 旁路推送通道，失败只记录
	if s.pushClient != nil {
		if err := s.pushClient.SendNotification(ctx, recipientID, notification); err != nil {
			log.Printf("警告: 推送网关投递通知 %s 给用户 %d 失败（已忽略）: %v", notification.ID, recipientID, err)
		}
	}

	return notification, nil
}

// MarkRead 翻转 read 标记。这是收件箱拥有者的点操作，不做并发防护：
// 同一条通知只会被它的接收者在自己的视图里标记。
func (s *notificationService) MarkRead(ctx context.Context, recipientID uint, notificationID string) error {
	path := NotificationPath(recipientID, notificationID)

	var notification models.Notification
	found, err := s.tree.Get(ctx, path, &notification)
	if err != nil {
		return fmt.Errorf("读取通知 %s 失败: %w", path, err)
	}
	if !found {
		return ErrNotificationNotFound
	}

	notification.Read = true
	if err := s.tree.Set(ctx, path, &notification); err != nil {
		return fmt.Errorf("更新通知 %s 已读标记失败: %w", path, err)
	}
	return nil
}

// Delete 删除收件箱中的一条通知。
func (s *notificationService) Delete(ctx context.Context, recipientID uint, notificationID string) error {
	path := NotificationPath(recipientID, notificationID)

	found, err := s.tree.Get(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("读取通知 %s 失败: %w", path, err)
	}
	if !found {
		return ErrNotificationNotFound
	}
	if err := s.tree.Delete(ctx, path); err != nil {
		return fmt.Errorf("删除通知 %s 失败: %w", path, err)
	}
	return nil
}

// List 遍历收件箱前缀下的全部通知，按时间倒序返回。
func (s *notificationService) List(ctx context.Context, recipientID uint) ([]*models.Notification, error) {
	prefix := NotificationInboxPrefix(recipientID)
	var notifications []*models.Notification
	err := s.tree.List(ctx, prefix, func(path string, raw []byte) error {
		var notification models.Notification
		if err := json.Unmarshal(raw, &notification); err != nil {
			log.Printf("警告: 无法反序列化通知 %s，已跳过: %v", path, err)
			return nil
		}
		notifications = append(notifications, &notification)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历用户 %d 的收件箱失败: %w", recipientID, err)
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].Timestamp > notifications[j].Timestamp
	})
	return notifications, nil
}
