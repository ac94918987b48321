package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"social-go/internal/config" // 用于 WebSocketConfig
	"social-go/internal/events"

	"github.com/gorilla/websocket"
)

// ActionHandler 处理客户端发来的一条订阅控制帧。
type ActionHandler func(ctx context.Context, action events.ObserveAction) error

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated User ID for this client.
	UserID uint `json:"userId"`

	// Callback to handle incoming observe/unobserve control frames.
	handleAction ActionHandler `json:"-"`

	// Callback invoked once when the connection goes away; releases every
	// subscription this connection holds.
	release func() `json:"-"`
}

// Enqueue queues an already-serialized frame for delivery to this client.
// It never blocks; if the send buffer is full the frame is dropped.
func (c *Client) Enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Printf("警告: UserID %d 的发送通道已满，丢弃一条出站帧。", c.UserID)
	}
}

// readPump pumps control frames from the websocket connection to the handleAction callback.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		if c.release != nil {
			c.release()
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, rawWebsocketMessage, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket 错误 (客户端: %d): %v", c.UserID, err)
			} else {
				log.Printf("WebSocket 读取消息错误 (客户端: %d): %v", c.UserID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			log.Printf("警告: 客户端 %d 发送了非文本消息类型: %d", c.UserID, messageType)
			continue
		}

		var action events.ObserveAction
		if err := json.Unmarshal(rawWebsocketMessage, &action); err != nil {
			log.Printf("错误: 无法反序列化来自客户端 %d 的JSON: %v, 原始消息: %s", c.UserID, err, string(rawWebsocketMessage))
			continue
		}

		if c.handleAction == nil {
			log.Printf("警告: Client %d 的 handleAction 未初始化，控制帧未处理。", c.UserID)
			continue
		}
		if err := c.handleAction(context.Background(), action); err != nil {
			log.Printf("错误: 客户端 %d 的控制帧 %q 处理失败: %v", c.UserID, action.Action, err)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	newlineBytes := []byte("\n")
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 尝试聚合发送队列中的其他消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newlineBytes)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection 处理来自对等方的 websocket 请求。
// bind 在客户端对象创建之后、pump 启动之前调用，返回该连接的控制帧
// 处理函数以及连接关闭时的清理函数。
func ServeWsPerConnection(hub *Hub, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, bind func(c *Client) (ActionHandler, func())) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  int(wsCfg.MaxMessageSizeBytes),
		WriteBufferSize: int(wsCfg.MaxMessageSizeBytes),
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ServeWsPerConnection - Upgrade失败:", err)
		return
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		UserID: userID,
	}
	if bind != nil {
		client.handleAction, client.release = bind(client)
	}
	client.hub.register <- client

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	log.Printf("客户端已连接: UserID %d", userID)
}
