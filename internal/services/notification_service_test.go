package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisDriver "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-go/internal/models"
	"social-go/internal/push"
	"social-go/internal/realtime"
)

// failingPushClient 模拟推送网关不可用。
type failingPushClient struct {
	calls int
}

var _ push.Client = (*failingPushClient)(nil)

func (c *failingPushClient) SendNotification(ctx context.Context, recipientID uint, n *models.Notification) error {
	c.calls++
	return errors.New("推送网关不可达")
}

func newTestNotificationService(t *testing.T, pushClient push.Client) (NotificationService, realtime.TreeClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisDriver.NewClient(&redisDriver.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tree := realtime.NewRedisTree(client)
	return NewNotificationService(tree, pushClient), tree
}

func TestNotify(t *testing.T) {
	svc, _ := newTestNotificationService(t, nil)
	ctx := context.Background()

	notification, err := svc.Notify(ctx, 7, NotificationInput{
		Type:       models.NotificationFriendRequest,
		Title:      "新的好友请求",
		Message:    "Alice 向你发送了好友请求",
		SenderID:   1,
		SenderName: "Alice",
		Data:       map[string]string{"pairKey": "1:7"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(notification.ID, "notif_"))
	assert.False(t, notification.Read)
	assert.NotZero(t, notification.Timestamp)

	// 每次调用在收件箱下恰好产生一条新记录
	notifications, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, notification.ID, notifications[0].ID)
	assert.Equal(t, models.NotificationFriendRequest, notifications[0].Type)
	assert.Equal(t, "1:7", notifications[0].Data["pairKey"])

	// 只进自己的收件箱
	other, err := svc.List(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNotifyPushFailureSwallowed(t *testing.T) {
	pushClient := &failingPushClient{}
	svc, _ := newTestNotificationService(t, pushClient)
	ctx := context.Background()

	// 旁路推送失败不影响主路径
	notification, err := svc.Notify(ctx, 7, NotificationInput{Type: models.NotificationNewMessage, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, pushClient.calls)

	notifications, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, notification.ID, notifications[0].ID)
}

func TestMarkRead(t *testing.T) {
	svc, _ := newTestNotificationService(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.MarkRead(ctx, 7, "notif_missing"), ErrNotificationNotFound)

	notification, err := svc.Notify(ctx, 7, NotificationInput{
		Type:     models.NotificationFriendRequestAccepted,
		Title:    "好友请求已接受",
		Message:  "Bob 接受了你的好友请求",
		SenderID: 2,
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, 7, notification.ID))

	// 只翻转 read 标记，其余字段不动
	notifications, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.True(t, notifications[0].Read)
	assert.Equal(t, notification.Title, notifications[0].Title)
	assert.Equal(t, notification.Timestamp, notifications[0].Timestamp)
	assert.Equal(t, notification.SenderID, notifications[0].SenderID)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestNotificationService(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, 7, "notif_missing"), ErrNotificationNotFound)

	first, err := svc.Notify(ctx, 7, NotificationInput{Type: models.NotificationFriendRequest, Message: "a"})
	require.NoError(t, err)
	second, err := svc.Notify(ctx, 7, NotificationInput{Type: models.NotificationNewMessage, Message: "b"})
	require.NoError(t, err)

	// 删除恰好移除那一个节点
	require.NoError(t, svc.Delete(ctx, 7, first.ID))
	notifications, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, second.ID, notifications[0].ID)
}

func TestListOrder(t *testing.T) {
	svc, _ := newTestNotificationService(t, nil)
	ctx := context.Background()

	// 直接覆写时间戳构造出乱序写入
	tree := svc.(*notificationService).tree
	for i, ts := range []int64{300, 100, 200} {
		notification := &models.Notification{
			ID:        string(rune('a'+i)),
			Type:      models.NotificationNewMessage,
			Timestamp: ts,
		}
		require.NoError(t, tree.Set(ctx, NotificationPath(7, notification.ID), notification))
	}

	notifications, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, notifications, 3)
	assert.Equal(t, int64(300), notifications[0].Timestamp)
	assert.Equal(t, int64(200), notifications[1].Timestamp)
	assert.Equal(t, int64(100), notifications[2].Timestamp)
}
