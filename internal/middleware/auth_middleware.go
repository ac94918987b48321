package middleware

import (
	"context"
	"net/http"
	"strings"

	"social-go/internal/auth"
	"social-go/internal/config"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// UsernameKey 是用于在上下文中存储用户名的键。
const UsernameKey contextKey = "username"

// ClaimsKey 是用于在上下文中存储完整 JWT 声明的键。
const ClaimsKey contextKey = "claims"

// AuthMiddleware 是一个 HTTP 中间件，用于验证 JWT 并将用户信息添加到
// 上下文中。任何缺失、无效或已吊销的令牌都返回 401 —— 这是整个子系统
// 唯一的横切恢复策略：客户端收到 401 后清除令牌并跳转登录。
func AuthMiddleware(next http.Handler, authCfg config.AuthConfig, blacklist auth.TokenBlacklist) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "请求未包含授权令牌", http.StatusUnauthorized)
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
			http.Error(w, "授权头部格式无效", http.StatusUnauthorized)
			return
		}

		tokenString := headerParts[1]
		claims, err := auth.ValidateToken(r.Context(), tokenString, authCfg.JWTSecretKey, blacklist)
		if err != nil {
			http.Error(w, "令牌无效", http.StatusUnauthorized)
			return
		}

		// 将用户信息存入请求上下文
		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, UsernameKey, claims.Username)
		ctx = context.WithValue(ctx, ClaimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在或类型不正确，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetUsernameFromContext 从上下文中获取用户名。
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// GetClaimsFromContext 从上下文中获取完整的 JWT 声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
