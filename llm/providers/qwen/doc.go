// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package qwen 实现阿里云通义千问(DashScope 原生协议)的 Provider 适配器。
//
// 与 OpenAI 兼容层不同,DashScope 原生协议把消息包在 input.messages 里,
// 采样参数放在 parameters 里,应答在 output 中返回;用量字段命名为
// input_tokens / output_tokens / total_tokens。流式请求通过
// X-DashScope-SSE: enable 头开启,并以 incremental_output 获得纯增量。
//
// 端点:
//
//	POST {base}/api/v1/services/aigc/text-generation/generation
//
// 认证使用 Bearer 头。错误响应为 {code, message} 结构。
package qwen
