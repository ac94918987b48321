package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) TreeClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTree(client)
}

type testNode struct {
	Status string `json:"status"`
	Owner  uint   `json:"owner"`
}

func TestSetAndGet(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	found, err := tree.Get(ctx, "nodes/a", nil)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tree.Set(ctx, "nodes/a", &testNode{Status: "pending", Owner: 1}))

	var got testNode
	found, err = tree.Get(ctx, "nodes/a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, uint(1), got.Owner)
}

func TestSetIfAbsentOrField(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	// 空路径上创建成功
	require.NoError(t, tree.SetIfAbsentOrField(ctx, "nodes/a", &testNode{Status: "pending"}, "status", "rejected"))

	// 已有 pending 节点时不可覆盖
	err := tree.SetIfAbsentOrField(ctx, "nodes/a", &testNode{Status: "pending"}, "status", "rejected")
	assert.ErrorIs(t, err, ErrNodeExists)

	// replaceable 为空串时任何现存节点都不可覆盖
	err = tree.SetIfAbsentOrField(ctx, "nodes/a", &testNode{Status: "pending"}, "status", "")
	assert.ErrorIs(t, err, ErrNodeExists)

	// 节点处于 rejected 状态时允许删除重建
	require.NoError(t, tree.Set(ctx, "nodes/b", &testNode{Status: "rejected", Owner: 2}))
	require.NoError(t, tree.SetIfAbsentOrField(ctx, "nodes/b", &testNode{Status: "pending", Owner: 3}, "status", "rejected"))

	var got testNode
	found, err := tree.Get(ctx, "nodes/b", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, uint(3), got.Owner)
}

func TestTransitionField(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	err := tree.TransitionField(ctx, "nodes/missing", "status", "pending", "accepted", "acceptedAt", 1000)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, tree.Set(ctx, "nodes/a", &testNode{Status: "pending", Owner: 1}))

	// 期望值不符时迁移失败且节点不变
	err = tree.TransitionField(ctx, "nodes/a", "status", "accepted", "rejected", "rejectedAt", 1000)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, tree.TransitionField(ctx, "nodes/a", "status", "pending", "accepted", "acceptedAt", 2000))

	var got map[string]interface{}
	found, err := tree.Get(ctx, "nodes/a", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "accepted", got["status"])
	assert.Equal(t, float64(2000), got["acceptedAt"])
	assert.Equal(t, float64(2000), got["updatedAt"])
	// 其余字段原样保留
	assert.Equal(t, float64(1), got["owner"])

	// 迁移成功后旧状态不再匹配
	err = tree.TransitionField(ctx, "nodes/a", "status", "pending", "accepted", "acceptedAt", 3000)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteIfField(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	err := tree.DeleteIfField(ctx, "nodes/missing", "status", "pending")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, tree.Set(ctx, "nodes/a", &testNode{Status: "accepted"}))

	err = tree.DeleteIfField(ctx, "nodes/a", "status", "pending")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, tree.DeleteIfField(ctx, "nodes/a", "status", "accepted"))
	found, err := tree.Get(ctx, "nodes/a", nil)
	require.NoError(t, err)
	assert.False(t, found)

	// 已经删除后再条件删除报不存在
	err = tree.DeleteIfField(ctx, "nodes/a", "status", "accepted")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestList(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tree.Set(ctx, "inbox/1/a", &testNode{Status: "x"}))
	require.NoError(t, tree.Set(ctx, "inbox/1/b", &testNode{Status: "y"}))
	require.NoError(t, tree.Set(ctx, "inbox/2/c", &testNode{Status: "z"}))

	seen := map[string]string{}
	err := tree.List(ctx, "inbox/1/", func(path string, raw []byte) error {
		var node testNode
		if err := json.Unmarshal(raw, &node); err != nil {
			return err
		}
		seen[path] = node.Status
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"inbox/1/a": "x", "inbox/1/b": "y"}, seen)

	// 回调错误要中断遍历并向上传播
	wantErr := errors.New("stop")
	err = tree.List(ctx, "inbox/", func(path string, raw []byte) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func receiveWithTimeout(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		require.True(t, ok, "订阅通道被提前关闭")
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("等待订阅推送超时")
		return nil
	}
}

func TestSubscribe(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	updates, cancel, err := tree.Subscribe(ctx, "nodes/a")
	require.NoError(t, err)
	defer cancel()

	// 写入会把新快照推给订阅者
	require.NoError(t, tree.Set(ctx, "nodes/a", &testNode{Status: "pending", Owner: 1}))
	var got testNode
	require.NoError(t, json.Unmarshal(receiveWithTimeout(t, updates), &got))
	assert.Equal(t, "pending", got.Status)

	// 条件迁移也会推送新快照
	require.NoError(t, tree.TransitionField(ctx, "nodes/a", "status", "pending", "accepted", "acceptedAt", 1000))
	require.NoError(t, json.Unmarshal(receiveWithTimeout(t, updates), &got))
	assert.Equal(t, "accepted", got.Status)

	// 删除推送墓碑
	require.NoError(t, tree.Delete(ctx, "nodes/a"))
	assert.Equal(t, Tombstone, receiveWithTimeout(t, updates))

	// cancel 之后通道最终关闭
	cancel()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("cancel 后订阅通道未关闭")
		}
	}
}
