// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 kimi 提供 Moonshot Kimi 模型的 Provider 适配实现。Kimi 使用
OpenAI 兼容的 API 格式,本包只包装 openaicompat.Adapter,复用
HTTP 处理、SSE 解析、消息转换与错误映射。

# 定制行为

  - 默认 BaseURL: https://api.moonshot.cn
  - 默认模型: moonshot-v1-8k(由 catalog 提供)
  - Endpoint: /v1/chat/completions(基座默认值)

# 支持能力

  - Chat Completion 与 SSE 流式输出(委托 openaicompat)
  - 8K/32K/128K 三档上下文窗口
  - 健康检查、模型列表交集(委托 openaicompat)
*/
package kimi
