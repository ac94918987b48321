package apiserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"social-go/internal/middleware"
	"social-go/internal/models"
	"social-go/internal/services"
	"social-go/internal/storage"

	"github.com/gorilla/mux"
)

// FriendshipHandler 封装了好友关系相关的 HTTP 处理器方法。
// 所有变更操作都走好友同步器（实时树权威）；好友列表从持久化镜像读取，
// 它是最终一致的审计副本，列表视图可以接受这种滞后，单对状态查询
// 仍然走实时树。
type FriendshipHandler struct {
	friendshipService services.FriendshipService
	mirrorRepo        storage.FriendshipMirrorRepository
	userRepo          storage.UserRepository
}

// NewFriendshipHandler 创建一个新的 FriendshipHandler 实例。
func NewFriendshipHandler(
	friendshipService services.FriendshipService,
	mirrorRepo storage.FriendshipMirrorRepository,
	userRepo storage.UserRepository,
) *FriendshipHandler {
	return &FriendshipHandler{
		friendshipService: friendshipService,
		mirrorRepo:        mirrorRepo,
		userRepo:          userRepo,
	}
}

// otherUserIDFromPath 从路径参数中解析对端用户ID。
func otherUserIDFromPath(r *http.Request) (uint, error) {
	vars := mux.Vars(r)
	idStr, ok := vars["otherUserID"]
	if !ok {
		return 0, fmt.Errorf("请求路径中缺少 otherUserID")
	}
	id, err := storage.StrToUint(idStr)
	if err != nil {
		return 0, fmt.Errorf("无效的用户ID格式")
	}
	return id, nil
}

// SendFriendRequestHandler 处理发送好友请求。
// POST /api/v1/friend-requests/{otherUserID}
func (h *FriendshipHandler) SendFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	otherID, err := otherUserIDFromPath(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.friendshipService.SendRequest(r.Context(), selfID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrFriendRequestSelf):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrRecipientNotFound):
			writeJSONError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, services.ErrAlreadyFriends), errors.Is(err, services.ErrFriendRequestExists):
			writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("发送好友请求失败 (%d -> %d): %v", selfID, otherID, err)
			writeJSONError(w, "发送好友请求失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]string{"message": "好友请求已发送"})
}

// AcceptFriendRequestHandler 处理接受好友请求。
// POST /api/v1/friend-requests/{otherUserID}/accept
func (h *FriendshipHandler) AcceptFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.respondToRequest(w, r, h.friendshipService.AcceptRequest, "好友请求已接受")
}

// RejectFriendRequestHandler 处理拒绝好友请求。
// POST /api/v1/friend-requests/{otherUserID}/reject
func (h *FriendshipHandler) RejectFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.respondToRequest(w, r, h.friendshipService.RejectRequest, "好友请求已拒绝")
}

// respondToRequest 是 accept/reject 共用的响应路径，二者只差一个服务调用。
func (h *FriendshipHandler) respondToRequest(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, selfID, otherID uint) error,
	successMessage string,
) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	otherID, err := otherUserIDFromPath(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = op(r.Context(), selfID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoPendingRequest):
			writeJSONError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, services.ErrNotRequestRecipient):
			writeJSONError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, services.ErrStatusConflict):
			writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("响应好友请求失败 (%d 对 %d): %v", selfID, otherID, err)
			writeJSONError(w, "响应好友请求失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": successMessage})
}

// CancelFriendRequestHandler 处理发起方撤回自己的好友请求。
// DELETE /api/v1/friend-requests/{otherUserID}
func (h *FriendshipHandler) CancelFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	otherID, err := otherUserIDFromPath(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.friendshipService.CancelRequest(r.Context(), selfID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoPendingRequest):
			writeJSONError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, services.ErrNotRequestSender):
			writeJSONError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, services.ErrStatusConflict):
			writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("取消好友请求失败 (%d -> %d): %v", selfID, otherID, err)
			writeJSONError(w, "取消好友请求失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "好友请求已取消"})
}

// RemoveFriendHandler 处理删除好友。
// DELETE /api/v1/friends/{otherUserID}
func (h *FriendshipHandler) RemoveFriendHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	otherID, err := otherUserIDFromPath(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.friendshipService.RemoveFriend(r.Context(), selfID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFriends):
			writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, services.ErrStatusConflict):
			writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("删除好友失败 (%d -> %d): %v", selfID, otherID, err)
			writeJSONError(w, "删除好友失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "好友已删除"})
}

// GetFriendshipStatusHandler 做单对状态的一次性查询（实时树权威）。
// GET /api/v1/friendships/{otherUserID}
func (h *FriendshipHandler) GetFriendshipStatusHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}
	otherID, err := otherUserIDFromPath(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	update, err := h.friendshipService.GetStatus(r.Context(), selfID, otherID)
	if err != nil {
		log.Printf("查询好友关系状态失败 (%d 对 %d): %v", selfID, otherID, err)
		writeJSONError(w, "查询好友关系状态失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, update)
}

// ListPendingRequestsHandler 返回当前用户收到的待处理好友请求，
// 读取实时树而非镜像，保证列表与可接受的状态一致。
// GET /api/v1/friend-requests/pending
func (h *FriendshipHandler) ListPendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}

	pending, err := h.friendshipService.ListPendingRequests(r.Context(), selfID)
	if err != nil {
		log.Printf("获取用户 %d 的待处理好友请求失败: %v", selfID, err)
		writeJSONError(w, "获取待处理好友请求失败", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []*models.FriendshipRecord{}
	}
	writeJSONResponse(w, http.StatusOK, pending)
}

// GetFriendsHandler 返回当前用户的好友列表（来自持久化镜像）。
// GET /api/v1/friends
func (h *FriendshipHandler) GetFriendsHandler(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusInternalServerError)
		return
	}

	friendIDs, err := h.mirrorRepo.GetFriendIDs(r.Context(), selfID)
	if err != nil {
		log.Printf("获取用户 %d 的好友ID列表失败: %v", selfID, err)
		writeJSONError(w, "获取好友列表失败", http.StatusInternalServerError)
		return
	}
	if len(friendIDs) == 0 {
		writeJSONResponse(w, http.StatusOK, []struct{}{})
		return
	}

	friends, err := h.userRepo.GetMultipleBasicInfoByIDs(r.Context(), friendIDs)
	if err != nil {
		log.Printf("获取用户 %d 的好友资料失败: %v", selfID, err)
		writeJSONError(w, "获取好友列表失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, friends)
}
