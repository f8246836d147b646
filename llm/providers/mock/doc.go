// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package mock 实现不触网的 Provider 适配器,供测试与示例使用。
//
// 适配器返回可配置的固定应答,支持脚本化失败(前 N 次返回指定错误)、
// 延迟注入与健康开关。它不要求 API 密钥,Initialize 从不探测上游。
// 其余行为(目录校验、流式末块、用量统计)与真实适配器一致,
// 因此编排器测试可以用它覆盖重试、熔断与故障转移路径。
package mock
