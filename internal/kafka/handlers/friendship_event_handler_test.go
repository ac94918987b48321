package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	confluentkafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	redisDriver "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"social-go/internal/config"
	"social-go/internal/events"
	"social-go/internal/models"
	"social-go/internal/realtime"
	"social-go/internal/services"
	"social-go/internal/storage"
	ws "social-go/internal/websocket"
)

// fakeMirrorRepo 用内存 map 替代 Postgres 镜像表。
type fakeMirrorRepo struct {
	rows map[string]*models.FriendshipMirror
}

var _ storage.FriendshipMirrorRepository = (*fakeMirrorRepo)(nil)

func newFakeMirrorRepo() *fakeMirrorRepo {
	return &fakeMirrorRepo{rows: make(map[string]*models.FriendshipMirror)}
}

func (r *fakeMirrorRepo) Upsert(ctx context.Context, mirror *models.FriendshipMirror) error {
	r.rows[mirror.PairKey] = mirror
	return nil
}

func (r *fakeMirrorRepo) DeleteByPairKey(ctx context.Context, pairKey string) error {
	delete(r.rows, pairKey)
	return nil
}

func (r *fakeMirrorRepo) GetByPairKey(ctx context.Context, pairKey string) (*models.FriendshipMirror, error) {
	return r.rows[pairKey], nil
}

func (r *fakeMirrorRepo) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	for _, row := range r.rows {
		if row.Status != models.FriendshipStatusAccepted {
			continue
		}
		switch userID {
		case row.User1ID:
			ids = append(ids, row.User2ID)
		case row.User2ID:
			ids = append(ids, row.User1ID)
		}
	}
	return ids, nil
}

func (r *fakeMirrorRepo) CountFriends(ctx context.Context, userID uint) (int64, error) {
	ids, _ := r.GetFriendIDs(ctx, userID)
	return int64(len(ids)), nil
}

func newTestEventHandler(t *testing.T) (*FriendshipEventHandler, *fakeMirrorRepo, services.NotificationService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisDriver.NewClient(&redisDriver.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mirrorRepo := newFakeMirrorRepo()
	notificationService := services.NewNotificationService(realtime.NewRedisTree(client), nil)
	hub := ws.NewHub()
	return NewFriendshipEventHandler(mirrorRepo, notificationService, hub), mirrorRepo, notificationService
}

func kafkaMessage(t *testing.T, event *events.FriendshipEvent) *confluentkafka.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	topic := "friendship-events-test"
	return &confluentkafka.Message{
		TopicPartition: confluentkafka.TopicPartition{Topic: &topic},
		Value:          payload,
	}
}

func TestHandleRequestedEvent(t *testing.T) {
	handler, mirrorRepo, notificationService := newTestEventHandler(t)
	ctx := context.Background()

	record := &models.FriendshipRecord{
		ID:          "1:2",
		User1ID:     1,
		User2ID:     2,
		Status:      models.FriendshipStatusPending,
		RequestedBy: 1,
		CreatedAt:   1000,
		UpdatedAt:   1000,
	}
	event := &events.FriendshipEvent{
		Kind:       events.FriendshipRequested,
		PairKey:    "1:2",
		ActorID:    1,
		PeerID:     2,
		Record:     record,
		OccurredAt: 1000,
		ActorName:  "Alice",
	}

	require.NoError(t, handler.Handle(ctx, kafkaMessage(t, event)))

	// 镜像被写入
	mirror := mirrorRepo.rows["1:2"]
	require.NotNil(t, mirror)
	assert.Equal(t, models.FriendshipStatusPending, mirror.Status)
	assert.Equal(t, uint(1), mirror.RequestedBy)

	// 接收者收件箱里恰好多了一条 friend_request 通知
	notifications, err := notificationService.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationFriendRequest, notifications[0].Type)
	assert.Equal(t, uint(1), notifications[0].SenderID)
	assert.Equal(t, "1:2", notifications[0].Data["pairKey"])
	assert.False(t, notifications[0].Read)

	// 发起者不收通知
	actorInbox, err := notificationService.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, actorInbox)
}

func TestHandleAcceptedEvent(t *testing.T) {
	handler, mirrorRepo, notificationService := newTestEventHandler(t)
	ctx := context.Background()

	record := &models.FriendshipRecord{
		ID:          "1:2",
		User1ID:     1,
		User2ID:     2,
		Status:      models.FriendshipStatusAccepted,
		RequestedBy: 1,
		AcceptedAt:  2000,
		UpdatedAt:   2000,
	}
	// 接受方是 2，事件的 peer 是原请求者 1
	event := &events.FriendshipEvent{
		Kind:       events.FriendshipAccepted,
		PairKey:    "1:2",
		ActorID:    2,
		PeerID:     1,
		Record:     record,
		OccurredAt: 2000,
		ActorName:  "Bob",
	}

	require.NoError(t, handler.Handle(ctx, kafkaMessage(t, event)))

	mirror := mirrorRepo.rows["1:2"]
	require.NotNil(t, mirror)
	assert.Equal(t, models.FriendshipStatusAccepted, mirror.Status)
	require.NotNil(t, mirror.AcceptedAt)

	// friend_request_accepted 通知落在原请求者的收件箱
	notifications, err := notificationService.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationFriendRequestAccepted, notifications[0].Type)
}

// seamUserRepo 只提供好友同步器用到的资料查询，其余方法由嵌入的
// 接口兜底（本测试不会触及）。
type seamUserRepo struct {
	storage.UserRepository
	users map[uint]*models.UserBasicInfo
}

func (r *seamUserRepo) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	info, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return info, nil
}

// pipeProducer 把 outbox 事件直接交给消费端处理器，
// 让测试覆盖从变更操作到收件箱的完整链路。
type pipeProducer struct {
	handler *FriendshipEventHandler
}

func (p *pipeProducer) SendMessage(ctx context.Context, topic string, key, payload []byte) error {
	msg := &confluentkafka.Message{
		TopicPartition: confluentkafka.TopicPartition{Topic: &topic},
		Value:          payload,
	}
	return p.handler.Handle(ctx, msg)
}

func (p *pipeProducer) Close() {}

func TestAcceptedNotificationCarriesAccepterIdentity(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisDriver.NewClient(&redisDriver.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tree := realtime.NewRedisTree(client)

	mirrorRepo := newFakeMirrorRepo()
	notificationService := services.NewNotificationService(tree, nil)
	handler := NewFriendshipEventHandler(mirrorRepo, notificationService, ws.NewHub())

	userRepo := &seamUserRepo{users: map[uint]*models.UserBasicInfo{
		1: {ID: 1, Username: "alice", Nickname: "Alice", AvatarURL: "a.png"},
		2: {ID: 2, Username: "bob", Nickname: "Bob", AvatarURL: "b.png"},
	}}
	friendshipService := services.NewFriendshipService(tree, userRepo,
		&pipeProducer{handler: handler},
		config.KafkaConfig{FriendshipEventsTopic: "friendship-events-test"})

	ctx := context.Background()
	require.NoError(t, friendshipService.SendRequest(ctx, 1, 2))
	require.NoError(t, friendshipService.AcceptRequest(ctx, 2, 1))

	// 原请求者的收件箱里收到接受通知，发送者身份来自事件本身
	inbox, err := notificationService.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	accepted := inbox[0]
	assert.Equal(t, models.NotificationFriendRequestAccepted, accepted.Type)
	assert.Equal(t, uint(2), accepted.SenderID)
	assert.Equal(t, "Bob", accepted.SenderName)
	assert.Equal(t, "b.png", accepted.SenderImage)
	assert.Equal(t, "Bob 接受了你的好友请求", accepted.Message)

	// 镜像经由同一条链路落库
	mirror := mirrorRepo.rows["1:2"]
	require.NotNil(t, mirror)
	assert.Equal(t, models.FriendshipStatusAccepted, mirror.Status)
}

func TestHandleCancelledEvent(t *testing.T) {
	handler, mirrorRepo, notificationService := newTestEventHandler(t)
	ctx := context.Background()

	// 先有一条 pending 镜像
	require.NoError(t, mirrorRepo.Upsert(ctx, &models.FriendshipMirror{
		PairKey: "1:2", User1ID: 1, User2ID: 2,
		Status: models.FriendshipStatusPending, RequestedBy: 1,
	}))

	event := &events.FriendshipEvent{
		Kind:       events.FriendshipCancelled,
		PairKey:    "1:2",
		ActorID:    1,
		PeerID:     2,
		OccurredAt: 3000,
	}
	require.NoError(t, handler.Handle(ctx, kafkaMessage(t, event)))

	// 镜像被删除，且取消不产生任何通知
	assert.Nil(t, mirrorRepo.rows["1:2"])
	notifications, err := notificationService.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestHandleMalformedMessage(t *testing.T) {
	handler, _, _ := newTestEventHandler(t)
	topic := "friendship-events-test"
	msg := &confluentkafka.Message{
		TopicPartition: confluentkafka.TopicPartition{Topic: &topic},
		Value:          []byte("not json"),
	}
	// 无法解析的消息被吞掉，不能卡死分区
	assert.NoError(t, handler.Handle(context.Background(), msg))
}
