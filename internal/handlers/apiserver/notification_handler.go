package apiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"social-go/internal/middleware"
	"social-go/internal/models"
	"social-go/internal/services"

	"github.com/gorilla/mux"
)

// NotificationHandler 封装了通知收件箱相关的 HTTP 处理器方法。
// 收件箱归属于当前认证用户；所有操作只作用于自己的收件箱。
type NotificationHandler struct {
	notificationService services.NotificationService
}

// NewNotificationHandler 创建一个新的 NotificationHandler 实例。
func NewNotificationHandler(notificationService services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// ListNotificationsHandler 按时间倒序返回当前用户的全部通知。
// GET /api/v1/notifications
func (h *NotificationHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}

	notifications, err := h.notificationService.List(r.Context(), userID)
	if err != nil {
		log.Printf("获取用户 %d 的通知列表失败: %v", userID, err)
		writeJSONError(w, "获取通知列表失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, notifications)
}

// MarkNotificationReadHandler 把一条通知标记为已读。
// POST /api/v1/notifications/{notificationID}/read
func (h *NotificationHandler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	notificationID := mux.Vars(r)["notificationID"]
	if notificationID == "" {
		writeJSONError(w, "请求路径中缺少 notificationID", http.StatusBadRequest)
		return
	}

	err := h.notificationService.MarkRead(r.Context(), userID, notificationID)
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("标记通知已读失败 (用户 %d, 通知 %s): %v", userID, notificationID, err)
		writeJSONError(w, "标记通知已读失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "通知已标记为已读"})
}

// DeleteNotificationHandler 删除当前用户收件箱中的一条通知。
// DELETE /api/v1/notifications/{notificationID}
func (h *NotificationHandler) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	notificationID := mux.Vars(r)["notificationID"]
	if notificationID == "" {
		writeJSONError(w, "请求路径中缺少 notificationID", http.StatusBadRequest)
		return
	}

	err := h.notificationService.Delete(r.Context(), userID, notificationID)
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("删除通知失败 (用户 %d, 通知 %s): %v", userID, notificationID, err)
		writeJSONError(w, "删除通知失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "通知已删除"})
}

// SendNotificationRequest 是通用通知投递端点的请求结构体。供消息、
// 求职申请等其他业务流触发 fan-out 使用，好友关系通知走 Kafka 事件。
type SendNotificationRequest struct {
	RecipientID uint                    `json:"recipientId"`
	Type        models.NotificationType `json:"type"`
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	Data        map[string]string       `json:"data,omitempty"`
}

// SendNotificationHandler 处理通用的通知投递请求。
// POST /api/v1/send-notification
func (h *NotificationHandler) SendNotificationHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}

	var req SendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.RecipientID == 0 || req.Type == "" {
		writeJSONError(w, "recipientId 和 type 不能为空", http.StatusBadRequest)
		return
	}

	senderName, _ := middleware.GetUsernameFromContext(r.Context())
	notification, err := h.notificationService.Notify(r.Context(), req.RecipientID, services.NotificationInput{
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		SenderID:   senderID,
		SenderName: senderName,
		Data:       req.Data,
	})
	if err != nil {
		log.Printf("投递通知失败 (发送者 %d, 接收者 %d): %v", senderID, req.RecipientID, err)
		writeJSONError(w, "投递通知失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusCreated, notification)
}
