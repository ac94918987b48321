package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social-go/internal/config"
	"social-go/internal/handlers/apiserver"
	appKafka "social-go/internal/kafka"
	"social-go/internal/middleware"
	"social-go/internal/push"
	"social-go/internal/realtime"
	"social-go/internal/services"
	"social-go/internal/storage"

	appRedis "social-go/internal/redis"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("API 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("API 服务器数据库连接成功。")

	// (可选) 表结构迁移
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：API 服务器数据库表迁移可能失败: %v", err)
	} else {
		log.Println("API 服务器数据库表迁移成功 (如果执行)。")
	}

	// 3. 初始化 Redis Client
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	_, err = redisClient.Ping(context.Background()).Result()
	if err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")

	// 4. 初始化 TokenBlacklist 服务和实时树客户端
	tokenBlacklistService := appRedis.NewRedisTokenBlacklist(redisClient)
	tree := realtime.NewRedisTree(redisClient)

	// 5. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	mirrorRepo := storage.NewGormFriendshipMirrorRepository(db)

	// 6. 初始化 Kafka Producer（好友关系变更事件的 outbox 通道）
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (API Server)。")

	// 7. 初始化 Services
	authService := services.NewAuthService(userRepo, mirrorRepo, cfg)
	userService := services.NewUserService(userRepo)
	friendshipService := services.NewFriendshipService(tree, userRepo, kfkProducer, cfg.Kafka)

	var pushClient push.Client
	if cfg.Push.Enabled {
		pushClient = push.NewGatewayClient(cfg.Push, nil)
		log.Println("推送网关旁路通道已启用。")
	}
	notificationService := services.NewNotificationService(tree, pushClient)

	// 8. 初始化 Handlers
	authHandler := apiserver.NewAuthHandler(authService, tokenBlacklistService)
	userHandler := apiserver.NewUserHandler(userService)
	friendshipHandler := apiserver.NewFriendshipHandler(friendshipService, mirrorRepo, userRepo)
	notificationHandler := apiserver.NewNotificationHandler(notificationService)

	// 9. 设置 HTTP 路由
	r := mux.NewRouter()

	// 9.1 认证路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)

	// 创建 AuthMiddleware 实例
	authMW := func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, cfg.Auth, tokenBlacklistService)
	}

	// 9.2 API 子路由 (需要认证)
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)

	// 将登出路由放在受保护的 apiRouter 下，因为它需要认证来获取 JTI
	apiRouter.HandleFunc("/auth/logout", authHandler.LogoutHandler).Methods(http.MethodPost)

	// 用户路由
	apiRouter.HandleFunc("/users/me", userHandler.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me", userHandler.UpdateMyProfileHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/search", userHandler.SearchUsersHandler).Methods(http.MethodGet)

	// 好友关系路由
	apiRouter.HandleFunc("/friends", friendshipHandler.GetFriendsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/friends/{otherUserID:[0-9]+}", friendshipHandler.RemoveFriendHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/friendships/{otherUserID:[0-9]+}", friendshipHandler.GetFriendshipStatusHandler).Methods(http.MethodGet)

	// 好友请求路由
	friendRequestRouter := apiRouter.PathPrefix("/friend-requests").Subrouter()
	friendRequestRouter.HandleFunc("/pending", friendshipHandler.ListPendingRequestsHandler).Methods(http.MethodGet)
	friendRequestRouter.HandleFunc("/{otherUserID:[0-9]+}", friendshipHandler.SendFriendRequestHandler).Methods(http.MethodPost)
	friendRequestRouter.HandleFunc("/{otherUserID:[0-9]+}", friendshipHandler.CancelFriendRequestHandler).Methods(http.MethodDelete)
	friendRequestRouter.HandleFunc("/{otherUserID:[0-9]+}/accept", friendshipHandler.AcceptFriendRequestHandler).Methods(http.MethodPost)
	friendRequestRouter.HandleFunc("/{otherUserID:[0-9]+}/reject", friendshipHandler.RejectFriendRequestHandler).Methods(http.MethodPost)

	// 通知路由
	apiRouter.HandleFunc("/notifications", notificationHandler.ListNotificationsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notifications/{notificationID}/read", notificationHandler.MarkNotificationReadHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/notifications/{notificationID}", notificationHandler.DeleteNotificationHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/send-notification", notificationHandler.SendNotificationHandler).Methods(http.MethodPost)

	// 9.3 公开路由 (不需要认证)
	// 获取其他用户公开信息
	r.HandleFunc("/users/{userID:[0-9]+}", userHandler.GetUserProfileHandler).Methods(http.MethodGet)

	// 10. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)

	// 定义 CORS 选项，从配置中读取
	allowedOrigins := handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins)
	allowedMethods := handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods)
	allowedHeaders := handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders)
	exposedHeaders := handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders)
	maxAge := handlers.MaxAge(cfg.APIServer.CORS.MaxAge)

	corsOptions := []handlers.CORSOption{
		allowedOrigins,
		allowedMethods,
		allowedHeaders,
		exposedHeaders,
		maxAge,
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	// 将主路由器 r 包装在 CORS 中间件中
	corsHandler := handlers.CORS(corsOptions...)(r)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("API 服务器强制关闭: %v", err)
	}

	if err := tree.Close(); err != nil {
		log.Printf("关闭实时树客户端失败: %v", err)
	}

	log.Println("API 服务器已成功关闭")
}
