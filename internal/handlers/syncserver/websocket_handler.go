package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"social-go/internal/auth"
	"social-go/internal/config"
	"social-go/internal/events"
	"social-go/internal/models"
	"social-go/internal/services"
	ws "social-go/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	hub               *ws.Hub
	friendshipService services.FriendshipService
	blacklist         auth.TokenBlacklist
	cfg               config.Config // 用于获取 WebSocket 和 Auth 配置
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, friendshipService services.FriendshipService, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		hub:               hub,
		friendshipService: friendshipService,
		blacklist:         blacklist,
		cfg:               cfg,
	}
}

// ServeWS 处理传入的 WebSocket 请求。
// 它将 HTTP 连接升级为 WebSocket 连接，并为该连接创建一个新的客户端。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// 1. 用户认证 (通过 token 查询参数)
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		log.Printf("WebSocket 连接尝试失败：令牌无效: %v", err)
		http.Error(w, fmt.Sprintf("令牌无效: %v", err), http.StatusUnauthorized)
		return
	}
	userID := claims.UserID
	log.Printf("用户 %s (ID: %d) 尝试连接 WebSocket", claims.Username, userID)

	// 2. 升级连接，并为该连接绑定一个订阅会话。
	ws.ServeWsPerConnection(h.hub, userID, w, r, h.cfg.WebSocket, func(c *ws.Client) (ws.ActionHandler, func()) {
		sess := newObserveSession(userID, h.friendshipService, c)
		return sess.Handle, sess.ReleaseAll
	})
}

// observeSession 持有单个 WebSocket 连接的全部状态订阅。
// 每个被观察的对端用户对应一个 cancel，连接断开时全部释放。
type observeSession struct {
	selfID  uint
	friends services.FriendshipService
	client  *ws.Client

	mu      sync.Mutex
	cancels map[uint]func()
	closed  bool
}

func newObserveSession(selfID uint, friends services.FriendshipService, client *ws.Client) *observeSession {
	return &observeSession{
		selfID:  selfID,
		friends: friends,
		client:  client,
		cancels: make(map[uint]func()),
	}
}

// Handle dispatches a single observe/unobserve control frame.
func (s *observeSession) Handle(ctx context.Context, action events.ObserveAction) error {
	switch action.Action {
	case "observe":
		return s.observe(ctx, action.UserID)
	case "unobserve":
		s.unobserve(action.UserID)
		return nil
	default:
		return fmt.Errorf("未知的控制帧动作: %q", action.Action)
	}
}

func (s *observeSession) observe(ctx context.Context, otherID uint) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("连接已关闭")
	}
	if _, ok := s.cancels[otherID]; ok {
		// Already observing this pair; observe is idempotent per connection.
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	updates, cancel, err := s.friends.Observe(ctx, s.selfID, otherID)
	if err != nil {
		return fmt.Errorf("订阅用户 %d 与 %d 的状态失败: %w", s.selfID, otherID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancels[otherID] = cancel
	s.mu.Unlock()

	go s.forward(otherID, updates)
	return nil
}

// forward relays each status update from the subscription to the client.
func (s *observeSession) forward(otherID uint, updates <-chan models.StatusUpdate) {
	for update := range updates {
		u := update
		frame := events.PushMessage{
			Type:       events.PushFriendshipStatus,
			ReceiverID: s.selfID,
			Status:     &u,
		}
		payload, err := json.Marshal(&frame)
		if err != nil {
			log.Printf("错误: 无法序列化状态帧 (用户 %d 观察 %d): %v", s.selfID, otherID, err)
			continue
		}
		s.client.Enqueue(payload)
	}
}

func (s *observeSession) unobserve(otherID uint) {
	s.mu.Lock()
	cancel, ok := s.cancels[otherID]
	if ok {
		delete(s.cancels, otherID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// ReleaseAll 释放该连接持有的全部订阅。连接断开时由 readPump 调用。
func (s *observeSession) ReleaseAll() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[uint]func())
	s.closed = true
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		log.Printf("用户 %d 断开连接，已释放 %d 个状态订阅。", s.selfID, len(cancels))
	}
}
