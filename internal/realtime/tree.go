package realtime

import (
	"context"
	"errors"
)

var (
	// ErrNodeNotFound 表示目标路径上没有节点。
	ErrNodeNotFound = errors.New("实时树节点不存在")
	// ErrConflict 表示条件写入失败：节点当前状态与期望状态不符。
	ErrConflict = errors.New("实时树节点状态与期望不符")
	// ErrNodeExists 表示条件创建失败：路径上已有不可覆盖的节点。
	ErrNodeExists = errors.New("实时树节点已存在")
)

// Tombstone 是节点被删除时推送给订阅者的负载，模仿实时数据库
// 监听器在节点消失时收到的 null 快照。
var Tombstone = []byte("null")

// TreeClient 是分层键值实时树的客户端接口。节点内容是 JSON 文档；
// 每条路径同时也是一个推送通道，写入和删除都会把最新快照（或 Tombstone）
// 推给该路径的所有订阅者。
//
// 所有"读-改-写"都必须通过条件原语完成（TransitionField / DeleteIfField /
// SetIfAbsentOrField），它们在存储端原子执行，这样并发的接受与取消
// 只会有一个确定的赢家。
type TreeClient interface {
	// Get 读取路径上的节点并反序列化到 out。节点不存在时返回 found=false。
	Get(ctx context.Context, path string, out interface{}) (found bool, err error)

	// Set 无条件写入节点并向订阅者推送新快照。
	Set(ctx context.Context, path string, value interface{}) error

	// SetIfAbsentOrField 仅在路径为空、或现有节点的 field 等于
	// replaceable 时写入（后者等价于先删除再创建）。
	// 已存在且不可覆盖时返回 ErrNodeExists。
	SetIfAbsentOrField(ctx context.Context, path string, value interface{}, field, replaceable string) error

	// TransitionField 原子地把节点的 field 从 from 改为 to，同时写入
	// stampField=nowMillis 和 updatedAt=nowMillis，并推送新快照。
	// 节点不存在返回 ErrNodeNotFound；field 当前值不是 from 返回 ErrConflict。
	TransitionField(ctx context.Context, path, field, from, to, stampField string, nowMillis int64) error

	// DeleteIfField 仅在节点的 field 等于 expected 时删除节点并推送
	// Tombstone。节点不存在返回 ErrNodeNotFound；值不符返回 ErrConflict。
	DeleteIfField(ctx context.Context, path, field, expected string) error

	// Delete 无条件删除节点并推送 Tombstone。节点本就不存在时不算错误。
	Delete(ctx context.Context, path string) error

	// List 遍历 prefix 下的所有节点，按路径回调原始 JSON。
	List(ctx context.Context, prefix string, fn func(path string, raw []byte) error) error

	// Subscribe 订阅路径上的快照推送。返回的 cancel 必须在消费方
	// 退出时调用，否则监听器会泄漏。通道在 cancel 后关闭。
	Subscribe(ctx context.Context, path string) (updates <-chan []byte, cancel func(), err error)

	// Close 释放底层连接。
	Close() error
}
