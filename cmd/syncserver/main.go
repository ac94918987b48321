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
	"social-go/internal/handlers/syncserver"
	appKafka "social-go/internal/kafka"
	kafkaHandlers "social-go/internal/kafka/handlers"
	"social-go/internal/push"
	"social-go/internal/realtime"
	appRedis "social-go/internal/redis"
	"social-go/internal/services"
	"social-go/internal/storage"
	"social-go/internal/websocket"

	redisDriver "github.com/redis/go-redis/v9"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Sync 服务器配置加载成功。")

	// 2. 初始化数据库连接（持久化镜像的写入端）
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Sync 服务器数据库连接成功。")

	// 3. 自动迁移数据库表结构 (通常一个服务实例负责即可)
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatalf("无法迁移数据库表: %v", err)
	}
	log.Println("Sync 服务器数据库表迁移成功。")

	// 4. 初始化 Redis Client 和实时树客户端
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")

	tokenBlacklistService := appRedis.NewRedisTokenBlacklist(redisClient)
	tree := realtime.NewRedisTree(redisClient)

	// 5. 初始化 Kafka Producer（Observe 订阅端不发事件，但 FriendshipService 需要它）
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (SyncServer)。")

	// 6. 初始化 Repositories 和 Services
	userRepo := storage.NewGormUserRepository(db)
	mirrorRepo := storage.NewGormFriendshipMirrorRepository(db)
	friendshipService := services.NewFriendshipService(tree, userRepo, kfkProducer, cfg.Kafka)

	var pushClient push.Client
	if cfg.Push.Enabled {
		pushClient = push.NewGatewayClient(cfg.Push, nil)
		log.Println("推送网关旁路通道已启用。")
	}
	notificationService := services.NewNotificationService(tree, pushClient)

	// 7. 初始化 WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()
	log.Println("WebSocket Hub 已启动。")

	// 8. 初始化 WebSocket Handler
	wsHandler := syncserver.NewWebSocketHandler(hub, friendshipService, tokenBlacklistService, cfg)

	// 9. 初始化好友关系事件消费者（镜像写入 + 通知 fan-out + 在线推送）
	eventConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建好友关系事件 Kafka 消费者: %v", err)
	}
	defer eventConsumer.Close()

	eventHandler := kafkaHandlers.NewFriendshipEventHandler(mirrorRepo, notificationService, hub)

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	go func() {
		topics := []string{cfg.Kafka.FriendshipEventsTopic}
		log.Printf("Kafka 好友关系事件消费者启动，监听 topic: %s, GroupID: %s", cfg.Kafka.FriendshipEventsTopic, cfg.Kafka.ConsumerGroup)
		err := eventConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup, eventHandler.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka 好友关系事件消费者错误: %v", err)
		}
		log.Println("Kafka 好友关系事件消费者 goroutine 已停止。")
	}()

	// 10. 配置 HTTP 服务器路由
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/sync", wsHandler.ServeWS)
	mux.HandleFunc("/ws/sync/", wsHandler.ServeWS)

	// 11. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: serverAddr, Handler: mux}

	go func() {
		log.Printf("Sync HTTP 服务器启动于 %s, WebSocket 路径: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Sync 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Sync 服务器准备关闭...")

	cancelConsumers() // 通知 Kafka 消费者停止
	log.Println("正在等待 Kafka 消费者停止...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Sync 服务器关闭失败: %v", err)
	}

	if err := tree.Close(); err != nil {
		log.Printf("关闭实时树客户端失败: %v", err)
	}
	log.Println("Sync 服务器已优雅关闭。")
}
