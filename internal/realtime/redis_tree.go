package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisTree 是 TreeClient 的 Redis 实现。每个节点是一个 JSON 字符串键，
// 路径本身复用为 pub/sub 通道名，条件原语通过 Lua 脚本在服务端原子执行。
type redisTree struct {
	client *redis.Client

	setIfAbsentScript *redis.Script
	transitionScript  *redis.Script
	deleteIfScript    *redis.Script
}

// NewRedisTree 基于已建立的 Redis 连接创建一个实时树客户端。
func NewRedisTree(client *redis.Client) TreeClient {
	return &redisTree{
		client:            client,
		setIfAbsentScript: redis.NewScript(luaSetIfAbsentOrField),
		transitionScript:  redis.NewScript(luaTransitionField),
		deleteIfScript:    redis.NewScript(luaDeleteIfField),
	}
}

// Get 读取并反序列化路径上的节点。
func (t *redisTree) Get(ctx context.Context, path string, out interface{}) (bool, error) {
	raw, err := t.client.Get(ctx, path).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取实时树节点 %s 失败: %w", path, err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("反序列化实时树节点 %s 失败: %w", path, err)
		}
	}
	return true, nil
}

// Set 无条件写入节点，并把新快照推送给路径的订阅者。
func (t *redisTree) Set(ctx context.Context, path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化实时树节点 %s 失败: %w", path, err)
	}
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, path, raw, 0)
		pipe.Publish(ctx, path, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入实时树节点 %s 失败: %w", path, err)
	}
	return nil
}

// SetIfAbsentOrField 条件创建节点；replaceable 非空时允许覆盖处于该
// 状态的旧节点（脚本内先 DEL 再 SET，满足"重建前必须删除"的约束）。
func (t *redisTree) SetIfAbsentOrField(ctx context.Context, path string, value interface{}, field, replaceable string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化实时树节点 %s 失败: %w", path, err)
	}
	res, err := t.setIfAbsentScript.Run(ctx, t.client, []string{path}, string(raw), field, replaceable).Int64()
	if err != nil {
		return fmt.Errorf("条件创建实时树节点 %s 失败: %w", path, err)
	}
	if res == 0 {
		return ErrNodeExists
	}
	return nil
}

// TransitionField 原子迁移节点字段值，迁移成功后快照已被推送。
func (t *redisTree) TransitionField(ctx context.Context, path, field, from, to, stampField string, nowMillis int64) error {
	res, err := t.transitionScript.Run(ctx, t.client, []string{path}, field, from, to, stampField, nowMillis).Result()
	if err != nil {
		return fmt.Errorf("迁移实时树节点 %s (%s: %s -> %s) 失败: %w", path, field, from, to, err)
	}
	switch v := res.(type) {
	case int64:
		if v == -1 {
			return ErrNodeNotFound
		}
		return ErrConflict
	case string:
		return nil
	default:
		return fmt.Errorf("迁移实时树节点 %s: 脚本返回了意外类型 %T", path, res)
	}
}

// DeleteIfField 条件删除节点并推送墓碑。
func (t *redisTree) DeleteIfField(ctx context.Context, path, field, expected string) error {
	res, err := t.deleteIfScript.Run(ctx, t.client, []string{path}, field, expected).Int64()
	if err != nil {
		return fmt.Errorf("条件删除实时树节点 %s 失败: %w", path, err)
	}
	switch res {
	case -1:
		return ErrNodeNotFound
	case 0:
		return ErrConflict
	default:
		return nil
	}
}

// Delete 无条件删除节点。即使节点不存在也会推送墓碑，订阅者据此
// 把派生状态归位为 none。
func (t *redisTree) Delete(ctx context.Context, path string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, path)
		pipe.Publish(ctx, path, Tombstone)
		return nil
	})
	if err != nil {
		return fmt.Errorf("删除实时树节点 %s 失败: %w", path, err)
	}
	return nil
}

// List 遍历前缀下的全部节点。SCAN 与并发删除之间没有隔离，
// 迭代期间消失的键会被跳过。
func (t *redisTree) List(ctx context.Context, prefix string, fn func(path string, raw []byte) error) error {
	iter := t.client.Scan(ctx, 0, prefix+"*", 64).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := t.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("遍历实时树前缀 %s 时读取 %s 失败: %w", prefix, key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("遍历实时树前缀 %s 失败: %w", prefix, err)
	}
	return nil
}

// Subscribe 通过 Redis pub/sub 订阅路径上的快照推送。
// 返回的 cancel 关闭底层订阅并最终关闭 updates 通道；消费方必须在
// 视图销毁时调用它，这是资源获取/释放纪律的释放端。
func (t *redisTree) Subscribe(ctx context.Context, path string) (<-chan []byte, func(), error) {
	ps := t.client.Subscribe(ctx, path)
	// 确认订阅已经生效，避免订阅建立前的写入被漏掉之后还以为在听
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("订阅实时树路径 %s 失败: %w", path, err)
	}

	updates := make(chan []byte, 16)
	go func() {
		defer close(updates)
		for msg := range ps.Channel() {
			select {
			case updates <- []byte(msg.Payload):
			default:
				// 消费方长时间不取就丢弃最旧语义不可取；这里选择丢弃
				// 本次快照并记录，订阅者下一次推送仍会到达
				log.Printf("警告: 实时树路径 %s 的订阅通道已满，丢弃一次快照推送", path)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				log.Printf("关闭实时树订阅 %s 失败: %v", path, err)
			}
		})
	}
	return updates, cancel, nil
}

// Close 释放底层 Redis 连接。
func (t *redisTree) Close() error {
	return t.client.Close()
}
