package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisDriver "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"social-go/internal/config"
	"social-go/internal/events"
	"social-go/internal/models"
	"social-go/internal/realtime"
	"social-go/internal/storage"
)

// stubUserRepo 只实现好友同步器用到的资料查询。
type stubUserRepo struct {
	users map[uint]*models.UserBasicInfo
}

var _ storage.UserRepository = (*stubUserRepo)(nil)

func (r *stubUserRepo) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	info, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return info, nil
}

func (r *stubUserRepo) GetMultipleBasicInfoByIDs(ctx context.Context, ids []uint) ([]*models.UserBasicInfo, error) {
	var out []*models.UserBasicInfo
	for _, id := range ids {
		if info, ok := r.users[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (r *stubUserRepo) Create(ctx context.Context, user *models.User) error  { return nil }
func (r *stubUserRepo) Update(ctx context.Context, user *models.User) error  { return nil }
func (r *stubUserRepo) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *stubUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *stubUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *stubUserRepo) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]models.User, error) {
	return nil, nil
}
func (r *stubUserRepo) GetDB() *gorm.DB { return nil }

// capturingProducer 记录发布到 outbox 的事件。
type capturingProducer struct {
	mu     sync.Mutex
	events []events.FriendshipEvent
}

func (p *capturingProducer) SendMessage(ctx context.Context, topic string, key, payload []byte) error {
	var event events.FriendshipEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingProducer) Close() {}

func (p *capturingProducer) kinds() []events.FriendshipEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []events.FriendshipEventKind
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func newTestFriendshipService(t *testing.T) (FriendshipService, *capturingProducer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisDriver.NewClient(&redisDriver.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &stubUserRepo{users: map[uint]*models.UserBasicInfo{
		1: {ID: 1, Username: "alice", Nickname: "Alice", AvatarURL: "a.png"},
		2: {ID: 2, Username: "bob", Nickname: "Bob", AvatarURL: "b.png"},
	}}
	producer := &capturingProducer{}
	cfg := config.KafkaConfig{FriendshipEventsTopic: "friendship-events-test"}
	return NewFriendshipService(realtime.NewRedisTree(client), repo, producer, cfg), producer
}

func TestSendRequest(t *testing.T) {
	svc, producer := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))

	// 双方看到同一条 pending 记录，请求者是 1
	for _, selfID := range []uint{1, 2} {
		status, err := svc.GetStatus(ctx, selfID, 3-selfID)
		require.NoError(t, err)
		assert.Equal(t, models.DerivedStatusPending, status.Status)
		assert.Equal(t, uint(1), status.RequestedBy)
		assert.Equal(t, models.PairKey(1, 2), status.PairKey)
	}
	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, status.SentBySelf(1))
	assert.False(t, status.SentBySelf(2))
	require.NotNil(t, status.Record)
	assert.Equal(t, uint(1), status.Record.User1ID)
	assert.Equal(t, "Alice", status.Record.User1Name)

	assert.Equal(t, []events.FriendshipEventKind{events.FriendshipRequested}, producer.kinds())
}

func TestSendRequestValidation(t *testing.T) {
	svc, _ := newTestFriendshipService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SendRequest(ctx, 1, 1), ErrFriendRequestSelf)
	assert.ErrorIs(t, svc.SendRequest(ctx, 1, 99), ErrRecipientNotFound)

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	// 同一对用户重复发起（任一方向）都报已有待处理请求
	assert.ErrorIs(t, svc.SendRequest(ctx, 1, 2), ErrFriendRequestExists)
	assert.ErrorIs(t, svc.SendRequest(ctx, 2, 1), ErrFriendRequestExists)

	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))
	assert.ErrorIs(t, svc.SendRequest(ctx, 1, 2), ErrAlreadyFriends)
}

func TestListPendingRequests(t *testing.T) {
	svc, _ := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))

	// 只有接收方能看到待处理请求，发起方的列表为空
	pending, err := svc.ListPendingRequests(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.PairKey(1, 2), pending[0].ID)
	assert.Equal(t, uint(1), pending[0].RequestedBy)

	pending, err = svc.ListPendingRequests(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 接受后列表清空
	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))
	pending, err = svc.ListPendingRequests(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAcceptRequest(t *testing.T) {
	svc, producer := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))

	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusFriends, status.Status)
	require.NotNil(t, status.Record)
	assert.NotZero(t, status.Record.AcceptedAt)
	// requested_by 创建后不再变化
	assert.Equal(t, uint(1), status.Record.RequestedBy)

	assert.Equal(t, []events.FriendshipEventKind{events.FriendshipRequested, events.FriendshipAccepted}, producer.kinds())

	// 接受事件携带接受者的展示信息，fan-out 用它生成通知的发送者
	accepted := producer.events[1]
	assert.Equal(t, uint(2), accepted.ActorID)
	assert.Equal(t, "Bob", accepted.ActorName)
	assert.Equal(t, "b.png", accepted.ActorImage)
}

func TestAcceptRequestGuards(t *testing.T) {
	svc, _ := newTestFriendshipService(t)
	ctx := context.Background()

	// 没有请求可接受
	assert.ErrorIs(t, svc.AcceptRequest(ctx, 2, 1), ErrNoPendingRequest)

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	// 发起者不能接受自己的请求
	assert.ErrorIs(t, svc.AcceptRequest(ctx, 1, 2), ErrNotRequestRecipient)

	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))
	// 已经接受过的请求不再是 pending
	assert.ErrorIs(t, svc.AcceptRequest(ctx, 2, 1), ErrNoPendingRequest)
}

func TestRejectThenReRequest(t *testing.T) {
	svc, producer := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	require.NoError(t, svc.RejectRequest(ctx, 2, 1))

	// rejected 对双方都显示为 none
	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusNone, status.Status)
	require.NotNil(t, status.Record)
	assert.Equal(t, models.FriendshipStatusRejected, status.Record.Status)
	assert.NotZero(t, status.Record.RejectedAt)

	// 被拒绝的记录不会永远堵死这对用户：重新发起会原子地删除重建
	require.NoError(t, svc.SendRequest(ctx, 2, 1))
	status, err = svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusPending, status.Status)
	assert.Equal(t, uint(2), status.RequestedBy)
	require.NotNil(t, status.Record)
	assert.Zero(t, status.Record.RejectedAt)

	assert.Equal(t, []events.FriendshipEventKind{
		events.FriendshipRequested, events.FriendshipRejected, events.FriendshipRequested,
	}, producer.kinds())

	// 拒绝事件同样携带操作者的展示信息
	rejected := producer.events[1]
	assert.Equal(t, uint(2), rejected.ActorID)
	assert.Equal(t, "Bob", rejected.ActorName)
	assert.Equal(t, "b.png", rejected.ActorImage)
}

func TestCancelRequest(t *testing.T) {
	svc, producer := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))

	// 只有发起者可以取消
	assert.ErrorIs(t, svc.CancelRequest(ctx, 2, 1), ErrNotRequestSender)

	require.NoError(t, svc.CancelRequest(ctx, 1, 2))
	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusNone, status.Status)
	assert.Nil(t, status.Record)

	// 已取消后无请求可取消
	assert.ErrorIs(t, svc.CancelRequest(ctx, 1, 2), ErrNoPendingRequest)

	assert.Equal(t, []events.FriendshipEventKind{events.FriendshipRequested, events.FriendshipCancelled}, producer.kinds())
}

func TestRemoveFriend(t *testing.T) {
	svc, _ := newTestFriendshipService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RemoveFriend(ctx, 1, 2), ErrNotFriends)

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	// pending 不是好友
	assert.ErrorIs(t, svc.RemoveFriend(ctx, 1, 2), ErrNotFriends)

	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))
	require.NoError(t, svc.RemoveFriend(ctx, 1, 2))

	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusNone, status.Status)

	// 删除后可以重新发起请求
	require.NoError(t, svc.SendRequest(ctx, 2, 1))
}

// 接受与取消在同一条 pending 记录上竞争时，条件写保证只有一个赢家。
func TestAcceptCancelRace(t *testing.T) {
	svc, producer := newTestFriendshipService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, 1, 2))

	acceptErr := svc.AcceptRequest(ctx, 2, 1)
	cancelErr := svc.CancelRequest(ctx, 1, 2)

	// 先到的接受赢，后到的取消必须确定性地失败
	require.NoError(t, acceptErr)
	assert.ErrorIs(t, cancelErr, ErrNoPendingRequest)

	status, err := svc.GetStatus(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedStatusFriends, status.Status)

	// 输家不发布事件
	assert.Equal(t, []events.FriendshipEventKind{events.FriendshipRequested, events.FriendshipAccepted}, producer.kinds())
}

func receiveUpdate(t *testing.T, ch <-chan models.StatusUpdate) models.StatusUpdate {
	t.Helper()
	select {
	case update, ok := <-ch:
		require.True(t, ok, "状态流被提前关闭")
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("等待状态更新超时")
		return models.StatusUpdate{}
	}
}

func TestObserve(t *testing.T) {
	svc, _ := newTestFriendshipService(t)
	ctx := context.Background()

	updates, cancel, err := svc.Observe(ctx, 2, 1)
	require.NoError(t, err)
	defer cancel()

	// 首个更新是订阅时刻的当前状态
	initial := receiveUpdate(t, updates)
	assert.Equal(t, models.DerivedStatusNone, initial.Status)

	require.NoError(t, svc.SendRequest(ctx, 1, 2))
	pending := receiveUpdate(t, updates)
	assert.Equal(t, models.DerivedStatusPending, pending.Status)
	// "谁发起的" 从流本身派生
	assert.Equal(t, uint(1), pending.RequestedBy)
	assert.False(t, pending.SentBySelf(2))

	require.NoError(t, svc.AcceptRequest(ctx, 2, 1))
	accepted := receiveUpdate(t, updates)
	assert.Equal(t, models.DerivedStatusFriends, accepted.Status)

	require.NoError(t, svc.RemoveFriend(ctx, 2, 1))
	removed := receiveUpdate(t, updates)
	assert.Equal(t, models.DerivedStatusNone, removed.Status)
	assert.Nil(t, removed.Record)
}
