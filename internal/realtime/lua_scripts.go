package realtime

const (
	// luaSetIfAbsentOrField 条件创建节点。
	// KEYS[1]: 节点路径
	// ARGV[1]: 新节点 JSON
	// ARGV[2]: 条件字段名（如 status）
	// ARGV[3]: 允许覆盖的字段值（如 rejected），空串表示只允许创建
	// 返回: 1 创建成功，0 已存在且不可覆盖
	luaSetIfAbsentOrField = `
local cur = redis.call('GET', KEYS[1])
if cur then
	if ARGV[3] == '' then
		return 0
	end
	local node = cjson.decode(cur)
	if node[ARGV[2]] ~= ARGV[3] then
		return 0
	end
	-- 等价于删除旧节点后重建
	redis.call('DEL', KEYS[1])
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PUBLISH', KEYS[1], ARGV[1])
return 1
`

	// luaTransitionField 原子状态迁移："从期望状态 X 变为 Y，否则失败"。
	// KEYS[1]: 节点路径
	// ARGV[1]: 字段名
	// ARGV[2]: 期望当前值
	// ARGV[3]: 目标值
	// ARGV[4]: 时间戳字段名（可为空串）
	// ARGV[5]: 当前 epoch 毫秒
	// 返回: 新 JSON；-1 节点不存在；0 当前值不符
	luaTransitionField = `
local cur = redis.call('GET', KEYS[1])
if not cur then
	return -1
end
local node = cjson.decode(cur)
if node[ARGV[1]] ~= ARGV[2] then
	return 0
end
node[ARGV[1]] = ARGV[3]
node['updatedAt'] = tonumber(ARGV[5])
if ARGV[4] ~= '' then
	node[ARGV[4]] = tonumber(ARGV[5])
end
local enc = cjson.encode(node)
redis.call('SET', KEYS[1], enc)
redis.call('PUBLISH', KEYS[1], enc)
return enc
`

	// luaDeleteIfField 条件删除，并向订阅者推送 null 墓碑。
	// KEYS[1]: 节点路径
	// ARGV[1]: 字段名
	// ARGV[2]: 期望当前值
	// 返回: 1 已删除；-1 节点不存在；0 当前值不符
	luaDeleteIfField = `
local cur = redis.call('GET', KEYS[1])
if not cur then
	return -1
end
local node = cjson.decode(cur)
if node[ARGV[1]] ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('PUBLISH', KEYS[1], 'null')
return 1
`
)
