package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"social-go/internal/config"
	"social-go/internal/events"
	"social-go/internal/kafka"
	"social-go/internal/models"
	"social-go/internal/realtime"
	"social-go/internal/storage"
)

var (
	ErrFriendRequestSelf   = errors.New("不能添加自己为好友")
	ErrRecipientNotFound   = errors.New("接收用户不存在")
	ErrAlreadyFriends      = errors.New("你们已经是好友了")
	ErrFriendRequestExists = errors.New("已存在待处理的好友请求")
	ErrNoPendingRequest    = errors.New("不存在待处理的好友请求")
	ErrNotRequestRecipient = errors.New("您不是此好友请求的接收者")
	ErrNotRequestSender    = errors.New("您不是此好友请求的发起者")
	ErrNotFriends          = errors.New("你们还不是好友")
	ErrStatusConflict      = errors.New("好友关系状态已被并发修改")
)

// FriendshipService 是好友同步器：为一对用户派生单一的
// none/pending/friends 状态，并提供全部变更操作。实时树是状态的唯一
// 权威来源；每次成功变更后向 Kafka 发布 FriendshipEvent，由 syncserver
// 异步写持久化镜像并触发通知 fan-out。
type FriendshipService interface {
	// Observe 订阅一对用户的状态流。返回的 cancel 必须在消费方退出时
	// 调用以释放监听器。首个更新是订阅时刻的当前状态。
	Observe(ctx context.Context, selfID, otherID uint) (<-chan models.StatusUpdate, func(), error)

	// GetStatus 做一次性的状态读取，供 REST 查询使用。
	GetStatus(ctx context.Context, selfID, otherID uint) (*models.StatusUpdate, error)

	// ListPendingRequests 返回当前用户收到的所有待处理好友请求，
	// 直接从实时树读取，保证接受/拒绝操作面对的是最新状态。
	ListPendingRequests(ctx context.Context, selfID uint) ([]*models.FriendshipRecord, error)

	SendRequest(ctx context.Context, selfID, otherID uint) error
	AcceptRequest(ctx context.Context, selfID, otherID uint) error
	RejectRequest(ctx context.Context, selfID, otherID uint) error
	CancelRequest(ctx context.Context, selfID, otherID uint) error
	RemoveFriend(ctx context.Context, selfID, otherID uint) error
}

// FriendshipPath returns the realtime-tree path of a pair's record.
func FriendshipPath(pairKey string) string {
	return "friendships/" + pairKey
}

type friendshipService struct {
	tree     realtime.TreeClient
	userRepo storage.UserRepository
	producer kafka.MessageProducer
	kafkaCfg config.KafkaConfig
	now      func() time.Time
}

// NewFriendshipService creates a new FriendshipService instance.
func NewFriendshipService(
	tree realtime.TreeClient,
	userRepo storage.UserRepository,
	producer kafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
) FriendshipService {
	return &friendshipService{
		tree:     tree,
		userRepo: userRepo,
		producer: producer,
		kafkaCfg: kafkaCfg,
		now:      time.Now,
	}
}

// SendRequest creates the pending record for the pair. A leftover rejected
// record is atomically deleted and recreated inside the same conditional
// write, so rejection does not block the pair forever.
func (s *friendshipService) SendRequest(ctx context.Context, selfID, otherID uint) error {
	if selfID == otherID {
		return ErrFriendRequestSelf
	}

	// 1. Check that the recipient exists and fetch both display profiles.
	// The denormalized names/avatars are loading placeholders only; they
	// are never kept in sync with the canonical profile afterwards.
	otherInfo, err := s.userRepo.GetBasicInfoByID(ctx, otherID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecipientNotFound
		}
		log.Printf("Error checking recipient user %d: %v", otherID, err)
		return fmt.Errorf("检查接收用户时出错: %w", err)
	}
	selfInfo, err := s.userRepo.GetBasicInfoByID(ctx, selfID)
	if err != nil {
		log.Printf("Error fetching requester profile %d: %v", selfID, err)
		return fmt.Errorf("获取发起者资料时出错: %w", err)
	}

	// 2. Build the record. User1 is always the requester regardless of the
	// pair key's sort order.
	nowMs := s.now().UnixMilli()
	pairKey := models.PairKey(selfID, otherID)
	record := &models.FriendshipRecord{
		ID:          pairKey,
		User1ID:     selfID,
		User2ID:     otherID,
		User1Name:   selfInfo.Nickname,
		User1Image:  selfInfo.AvatarURL,
		User2Name:   otherInfo.Nickname,
		User2Image:  otherInfo.AvatarURL,
		Status:      models.FriendshipStatusPending,
		RequestedBy: selfID,
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
	}

	// 3. Conditional create: succeeds only if no record exists or the
	// existing one is rejected.
	path := FriendshipPath(pairKey)
	err = s.tree.SetIfAbsentOrField(ctx, path, record, "status", string(models.FriendshipStatusRejected))
	if err != nil {
		if errors.Is(err, realtime.ErrNodeExists) {
			var existing models.FriendshipRecord
			if found, getErr := s.tree.Get(ctx, path, &existing); getErr == nil && found {
				if existing.Status == models.FriendshipStatusAccepted {
					return ErrAlreadyFriends
				}
				return ErrFriendRequestExists
			}
			return ErrFriendRequestExists
		}
		log.Printf("Error creating friendship record %s: %v", pairKey, err)
		return fmt.Errorf("创建好友请求失败: %w", err)
	}

	// 4. Publish the outbox event for the mirror and the fan-out.
	s.publishEvent(ctx, &events.FriendshipEvent{
		Kind:       events.FriendshipRequested,
		PairKey:    pairKey,
		ActorID:    selfID,
		PeerID:     otherID,
		Record:     record,
		OccurredAt: nowMs,
		ActorName:  selfInfo.Nickname,
		ActorImage: selfInfo.AvatarURL,
	})

	log.Printf("Friend request created for pair %s (requested by %d)", pairKey, selfID)
	return nil
}

// AcceptRequest transitions pending -> accepted. Only the recipient of the
// pending request may accept; the transition itself is a conditional write,
// so a racing cancel has a deterministic loser.
func (s *friendshipService) AcceptRequest(ctx context.Context, selfID, otherID uint) error {
	record, err := s.pendingRecord(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	if record.RequestedBy != otherID {
		return ErrNotRequestRecipient
	}

	nowMs := s.now().UnixMilli()
	pairKey := models.PairKey(selfID, otherID)
	err = s.tree.TransitionField(ctx, FriendshipPath(pairKey), "status",
		string(models.FriendshipStatusPending), string(models.FriendshipStatusAccepted),
		"acceptedAt", nowMs)
	if err != nil {
		if errors.Is(err, realtime.ErrNodeNotFound) || errors.Is(err, realtime.ErrConflict) {
			return ErrStatusConflict
		}
		log.Printf("Error accepting friend request %s: %v", pairKey, err)
		return fmt.Errorf("接受好友请求失败: %w", err)
	}

	record.Status = models.FriendshipStatusAccepted
	record.AcceptedAt = nowMs
	record.UpdatedAt = nowMs
	actorName, actorImage := record.DisplayInfo(selfID)
	s.publishEvent(ctx, &events.FriendshipEvent{
		Kind:       events.FriendshipAccepted,
		PairKey:    pairKey,
		ActorID:    selfID,
		PeerID:     otherID,
		Record:     record,
		OccurredAt: nowMs,
		ActorName:  actorName,
		ActorImage: actorImage,
	})

	log.Printf("Friend request %s accepted by user %d", pairKey, selfID)
	return nil
}

// RejectRequest transitions pending -> rejected. The record is left in
// place; a later SendRequest from either side atomically replaces it.
func (s *friendshipService) RejectRequest(ctx context.Context, selfID, otherID uint) error {
	record, err := s.pendingRecord(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	if record.RequestedBy != otherID {
		return ErrNotRequestRecipient
	}

	nowMs := s.now().UnixMilli()
	pairKey := models.PairKey(selfID, otherID)
	err = s.tree.TransitionField(ctx, FriendshipPath(pairKey), "status",
		string(models.FriendshipStatusPending), string(models.FriendshipStatusRejected),
		"rejectedAt", nowMs)
	if err != nil {
		if errors.Is(err, realtime.ErrNodeNotFound) || errors.Is(err, realtime.ErrConflict) {
			return ErrStatusConflict
		}
		log.Printf("Error rejecting friend request %s: %v", pairKey, err)
		return fmt.Errorf("拒绝好友请求失败: %w", err)
	}

	record.Status = models.FriendshipStatusRejected
	record.RejectedAt = nowMs
	record.UpdatedAt = nowMs
	actorName, actorImage := record.DisplayInfo(selfID)
	s.publishEvent(ctx, &events.FriendshipEvent{
		Kind:       events.FriendshipRejected,
		PairKey:    pairKey,
		ActorID:    selfID,
		PeerID:     otherID,
		Record:     record,
		OccurredAt: nowMs,
		ActorName:  actorName,
		ActorImage: actorImage,
	})

	log.Printf("Friend request %s rejected by user %d", pairKey, selfID)
	return nil
}

// CancelRequest deletes a pending record outright. Only the original
// requester may cancel.
func (s *friendshipService) CancelRequest(ctx context.Context, selfID, otherID uint) error {
	record, err := s.pendingRecord(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	if record.RequestedBy != selfID {
		return ErrNotRequestSender
	}

	pairKey := models.PairKey(selfID, otherID)
	err = s.tree.DeleteIfField(ctx, FriendshipPath(pairKey), "status", string(models.FriendshipStatusPending))
	if err != nil {
		if errors.Is(err, realtime.ErrNodeNotFound) || errors.Is(err, realtime.ErrConflict) {
			return ErrStatusConflict
		}
		log.Printf("Error cancelling friend request %s: %v", pairKey, err)
		return fmt.Errorf("取消好友请求失败: %w", err)
	}

	s.publishEvent(ctx, &events.FriendshipEvent{
		Kind:       events.FriendshipCancelled,
		PairKey:    pairKey,
		ActorID:    selfID,
		PeerID:     otherID,
		OccurredAt: s.now().UnixMilli(),
	})

	log.Printf("Friend request %s cancelled by user %d", pairKey, selfID)
	return nil
}

// RemoveFriend deletes an accepted record.
func (s *friendshipService) RemoveFriend(ctx context.Context, selfID, otherID uint) error {
	pairKey := models.PairKey(selfID, otherID)
	path := FriendshipPath(pairKey)

	var record models.FriendshipRecord
	found, err := s.tree.Get(ctx, path, &record)
	if err != nil {
		log.Printf("Error reading friendship record %s: %v", pairKey, err)
		return fmt.Errorf("读取好友关系失败: %w", err)
	}
	if !found || record.Status != models.FriendshipStatusAccepted {
		return ErrNotFriends
	}

	err = s.tree.DeleteIfField(ctx, path, "status", string(models.FriendshipStatusAccepted))
	if err != nil {
		if errors.Is(err, realtime.ErrNodeNotFound) || errors.Is(err, realtime.ErrConflict) {
			return ErrStatusConflict
		}
		log.Printf("Error removing friendship %s: %v", pairKey, err)
		return fmt.Errorf("删除好友关系失败: %w", err)
	}

	s.publishEvent(ctx, &events.FriendshipEvent{
		Kind:       events.FriendshipRemoved,
		PairKey:    pairKey,
		ActorID:    selfID,
		PeerID:     otherID,
		OccurredAt: s.now().UnixMilli(),
	})

	log.Printf("Friendship %s removed by user %d", pairKey, selfID)
	return nil
}

// GetStatus reads the pair's record once and derives the display status.
func (s *friendshipService) GetStatus(ctx context.Context, selfID, otherID uint) (*models.StatusUpdate, error) {
	pairKey := models.PairKey(selfID, otherID)

	var record models.FriendshipRecord
	found, err := s.tree.Get(ctx, FriendshipPath(pairKey), &record)
	if err != nil {
		return nil, fmt.Errorf("读取好友关系状态失败: %w", err)
	}
	if !found {
		return &models.StatusUpdate{
			PairKey:   pairKey,
			Status:    models.DerivedStatusNone,
			Timestamp: s.now(),
		}, nil
	}
	return &models.StatusUpdate{
		PairKey:     pairKey,
		Status:      record.Derive(),
		RequestedBy: record.RequestedBy,
		Record:      &record,
		Timestamp:   s.now(),
	}, nil
}

// ListPendingRequests scans the friendship subtree for pending records
// addressed to selfID. Results are sorted newest first.
func (s *friendshipService) ListPendingRequests(ctx context.Context, selfID uint) ([]*models.FriendshipRecord, error) {
	var pending []*models.FriendshipRecord
	err := s.tree.List(ctx, "friendships/", func(path string, raw []byte) error {
		var record models.FriendshipRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			log.Printf("ListPendingRequests: skipping malformed record at %s: %v", path, err)
			return nil
		}
		if record.Status != models.FriendshipStatusPending {
			return nil
		}
		if record.RequestedBy == selfID {
			return nil
		}
		if record.User1ID != selfID && record.User2ID != selfID {
			return nil
		}
		pending = append(pending, &record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("扫描待处理好友请求失败: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt > pending[j].CreatedAt
	})
	return pending, nil
}

// Observe subscribes to the pair's record and emits a StatusUpdate per
// snapshot, starting with the current state. RequestedBy rides on every
// update so "who sent it" is always derived from the same stream the
// status came from.
func (s *friendshipService) Observe(ctx context.Context, selfID, otherID uint) (<-chan models.StatusUpdate, func(), error) {
	pairKey := models.PairKey(selfID, otherID)
	path := FriendshipPath(pairKey)

	raw, cancel, err := s.tree.Subscribe(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("订阅好友关系状态失败: %w", err)
	}

	initial, err := s.GetStatus(ctx, selfID, otherID)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	updates := make(chan models.StatusUpdate, 16)
	go func() {
		defer close(updates)
		updates <- *initial
		for payload := range raw {
			updates <- s.decodeUpdate(pairKey, payload)
		}
	}()

	return updates, cancel, nil
}

// decodeUpdate maps a raw snapshot (or tombstone) onto a StatusUpdate.
func (s *friendshipService) decodeUpdate(pairKey string, payload []byte) models.StatusUpdate {
	update := models.StatusUpdate{
		PairKey:   pairKey,
		Status:    models.DerivedStatusNone,
		Timestamp: s.now(),
	}
	if string(payload) == string(realtime.Tombstone) {
		return update
	}
	var record models.FriendshipRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		log.Printf("错误: 无法反序列化好友关系快照 %s: %v", pairKey, err)
		return update
	}
	update.Status = record.Derive()
	update.RequestedBy = record.RequestedBy
	update.Record = &record
	return update
}

// pendingRecord reads the pair's record and checks it is pending.
func (s *friendshipService) pendingRecord(ctx context.Context, selfID, otherID uint) (*models.FriendshipRecord, error) {
	pairKey := models.PairKey(selfID, otherID)

	var record models.FriendshipRecord
	found, err := s.tree.Get(ctx, FriendshipPath(pairKey), &record)
	if err != nil {
		log.Printf("Error reading friendship record %s: %v", pairKey, err)
		return nil, fmt.Errorf("读取好友请求失败: %w", err)
	}
	if !found || record.Status != models.FriendshipStatusPending {
		return nil, ErrNoPendingRequest
	}
	return &record, nil
}

// publishEvent 发布 outbox 事件。发布是尽力而为的：实时树已经更新，
// 失败只会丢失镜像与通知，不回滚主操作。
func (s *friendshipService) publishEvent(ctx context.Context, event *events.FriendshipEvent) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling friendship event for pair %s: %v", event.PairKey, err)
		return
	}
	topic := s.kafkaCfg.FriendshipEventsTopic
	if err := s.producer.SendMessage(ctx, topic, []byte(event.PairKey), payload); err != nil {
		log.Printf("Error producing friendship event (%s, pair %s) to topic %s: %v", event.Kind, event.PairKey, topic, err)
	}
}
