package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-go/internal/config"
	"social-go/internal/models"
)

func testConfig(baseURL string) config.PushConfig {
	return config.PushConfig{
		Enabled:  true,
		BaseURL:  baseURL,
		Token:    "test-token",
		CSRFPath: "/csrf",
		SendPath: "/send-notification",
		Timeout:  2 * time.Second,
	}
}

func TestSendNotification(t *testing.T) {
	var gotPayload sendNotificationPayload
	var gotCSRF, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "csrf-123"})
		case "/send-notification":
			gotAuth = r.Header.Get("Authorization")
			gotCSRF = r.Header.Get("X-CSRF-Token")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewGatewayClient(testConfig(srv.URL), nil)
	err := client.SendNotification(context.Background(), 7, &models.Notification{
		ID:   "notif_1_abc",
		Type: models.NotificationFriendRequest,
	})
	require.NoError(t, err)

	// 发送请求携带预检拿到的 CSRF 令牌和 Bearer 令牌
	assert.Equal(t, "csrf-123", gotCSRF)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, uint(7), gotPayload.RecipientID)
	require.NotNil(t, gotPayload.Notification)
	assert.Equal(t, "notif_1_abc", gotPayload.Notification.ID)
}

func TestSendNotificationGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/csrf" {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "csrf-123"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewGatewayClient(testConfig(srv.URL), nil)
	err := client.SendNotification(context.Background(), 7, &models.Notification{ID: "n"})
	assert.Error(t, err)
}

func TestUnauthorizedTriggersCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var cleared bool
	client := NewGatewayClient(testConfig(srv.URL), func() { cleared = true })
	err := client.SendNotification(context.Background(), 7, &models.Notification{ID: "n"})
	assert.Error(t, err)
	// 401 是唯一的横切恢复策略：回调被触发以清除令牌状态
	assert.True(t, cleared)
}
