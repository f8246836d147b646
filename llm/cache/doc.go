// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 cache 提供进程内的响应缓存，把请求指纹映射到已完成的响应，
以减少对上游 provider 的重复调用，降低延迟与成本。

# 概述

缓存以请求的语义身份（消息序列、模型、温度、top_p、max_tokens、
系统提示词）作为键。两个身份元组完全相等的请求必然得到同一个键；
任一字段不同则键不同。键由 Fingerprint 生成：身份元组做确定性
JSON 序列化后取 SHA-256，截取前 16 字节的十六进制并冠以
"ai:cache:" 前缀。

# 淘汰策略

容量满时淘汰最早插入的条目（FIFO，非 LRU）：命中不续命、不提前。
条目按 TTL 过期，过期条目在下一次读取时惰性删除并按 miss 计。
流式响应从不缓存。

# 使用方式

	c := cache.New(1000, 5*time.Minute, true)
	key := cache.Fingerprint(identity)
	if entry, ok := c.Get(key); ok {
		return entry.Response
	}
	c.Put(key, resp)

Get/Put 并发安全；Disabled 时 Get 恒为 miss、Put 为空操作，
且不产生统计。
*/
package cache
