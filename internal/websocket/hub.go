package websocket

import (
	"encoding/json"
	"log"

	"social-go/internal/events"
)

// Hub maintains the set of active clients and pushes messages to the
// clients.
type Hub struct {
	// Registered clients, mapping UserID to Client. Assumes one connection per user ID.
	// If multiple connections per user are allowed, this needs to be map[uint][]*Client
	clients map[uint]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Push messages aimed at a specific user.
	direct chan *events.PushMessage
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uint]*Client),
		direct:     make(chan *events.PushMessage, 256),
	}
}

// DeliverPush sends a push message to the hub for delivery to a single user.
func (h *Hub) DeliverPush(msg *events.PushMessage) {
	// Use non-blocking send to prevent blocking the caller (Kafka consumer)
	select {
	case h.direct <- msg:
	default:
		log.Printf("警告: Hub direct channel is full. Dropping push for receiver %d", msg.ReceiverID)
	}
}

// Run starts the hub and listens for messages on its channels.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case client := <-h.register:
			// When registering, store the client by UserID.
			// Handle potential collisions if multiple connections are not allowed or overwrite is desired.
			if existingClient, ok := h.clients[client.UserID]; ok {
				log.Printf("警告: 用户 %d 已有连接，关闭旧连接并注册新连接。", client.UserID)
				close(existingClient.send)
			}
			h.clients[client.UserID] = client
			log.Printf("客户端已注册: UserID %d", client.UserID)

		case client := <-h.unregister:
			// Only remove the client if it is still the one we have stored;
			// an old connection may already have been replaced by a new one
			// for the same UserID.
			if storedClient, ok := h.clients[client.UserID]; ok && storedClient == client {
				delete(h.clients, client.UserID)
				close(client.send)
				log.Printf("客户端已注销: UserID %d", client.UserID)
			} else {
				log.Printf("尝试注销一个不匹配或已过期的客户端连接: UserID %d", client.UserID)
			}

		case pushMsg := <-h.direct:
			client, ok := h.clients[pushMsg.ReceiverID]
			if !ok {
				// User is not connected to this hub instance.
				continue
			}

			msgBytes, err := json.Marshal(pushMsg)
			if err != nil {
				log.Printf("错误: 无法序列化推送消息以发送给 UserID %d: %v", pushMsg.ReceiverID, err)
				continue
			}

			// Non-blocking send to the specific client
			select {
			case client.send <- msgBytes:
			default:
				// If the send buffer is full, we assume the client is slow or disconnected.
				log.Printf("警告: UserID %d 的发送通道已满或关闭，移除客户端。", pushMsg.ReceiverID)
				close(client.send)
				delete(h.clients, pushMsg.ReceiverID)
			}
		}
	}
}
