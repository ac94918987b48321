package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"social-go/internal/storage"
)

func main() {
	// 简单命令行参数解析
	if len(os.Args) < 2 {
		fmt.Println("使用方法:")
		fmt.Println("  ./admin show-pair <pairKey> - 显示一对用户的好友关系镜像记录")
		fmt.Println("  ./admin list-friends <userID> - 列出用户的好友ID")
		fmt.Println("  ./admin count-friends <userID> - 统计用户的好友数")
		os.Exit(1)
	}

	// 数据库连接
	dsn := "host=localhost port=5432 user=postgres dbname=social_go_db password=postgres sslmode=disable"
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer sqlDB.Close()

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  logger.Info, // 日志级别
			IgnoreRecordNotFoundError: true,        // 忽略ErrRecordNotFound
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Fatalf("Failed to create GORM instance: %v", err)
	}

	// 创建存储层实例
	mirrorRepo := storage.NewGormFriendshipMirrorRepository(db)

	// 执行指定的命令
	switch os.Args[1] {
	case "show-pair":
		if len(os.Args) < 3 {
			log.Fatalf("需要指定 pairKey")
		}
		showPair(mirrorRepo, os.Args[2])

	case "list-friends":
		userID := userIDArg()
		listFriends(mirrorRepo, userID)

	case "count-friends":
		userID := userIDArg()
		countFriends(mirrorRepo, userID)

	default:
		log.Fatalf("未知命令: %s", os.Args[1])
	}
}

func userIDArg() uint {
	if len(os.Args) < 3 {
		log.Fatalf("需要指定用户ID")
	}
	userID, err := strconv.ParseUint(os.Args[2], 10, 32)
	if err != nil {
		log.Fatalf("无效的用户ID: %v", err)
	}
	return uint(userID)
}

func showPair(repo storage.FriendshipMirrorRepository, pairKey string) {
	mirror, err := repo.GetByPairKey(context.Background(), pairKey)
	if err != nil {
		log.Fatalf("查找镜像记录失败: %v", err)
	}
	if mirror == nil {
		fmt.Printf("未找到 pairKey %s 的镜像记录\n", pairKey)
		return
	}

	fmt.Printf("好友关系镜像 %s:\n", pairKey)
	fmt.Println("--------------------------------------")
	fmt.Printf("发起方: %d\n", mirror.User1ID)
	fmt.Printf("接收方: %d\n", mirror.User2ID)
	fmt.Printf("状态: %s\n", mirror.Status)
	fmt.Printf("请求者: %d\n", mirror.RequestedBy)
	fmt.Printf("创建时间: %s\n", mirror.CreatedAt.Format("2006-01-02 15:04:05"))
	if mirror.AcceptedAt != nil {
		fmt.Printf("接受时间: %s\n", mirror.AcceptedAt.Format("2006-01-02 15:04:05"))
	}
	if mirror.RejectedAt != nil {
		fmt.Printf("拒绝时间: %s\n", mirror.RejectedAt.Format("2006-01-02 15:04:05"))
	}
}

func listFriends(repo storage.FriendshipMirrorRepository, userID uint) {
	friendIDs, err := repo.GetFriendIDs(context.Background(), userID)
	if err != nil {
		log.Fatalf("获取好友列表失败: %v", err)
	}

	fmt.Printf("用户 %d 的好友 (%d 人):\n", userID, len(friendIDs))
	fmt.Println("--------------------------------------")
	for i, id := range friendIDs {
		fmt.Printf("#%d 用户ID: %d\n", i+1, id)
	}
}

func countFriends(repo storage.FriendshipMirrorRepository, userID uint) {
	count, err := repo.CountFriends(context.Background(), userID)
	if err != nil {
		log.Fatalf("统计好友数失败: %v", err)
	}
	fmt.Printf("用户 %d 的好友数: %d\n", userID, count)
}
