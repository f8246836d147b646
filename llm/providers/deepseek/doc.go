// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 deepseek 提供 DeepSeek 模型的 Provider 适配实现。DeepSeek 使用
OpenAI 兼容的 API 格式,因此本包只包装 openaicompat.Adapter,复用
HTTP 处理、SSE 解析、消息转换与错误映射,仅定制差异部分。

# 定制行为

  - 默认 BaseURL: https://api.deepseek.com
  - 默认模型: deepseek-chat(由 catalog 提供)
  - Endpoint: /v1/chat/completions(基座默认值)

# 支持能力

  - Chat Completion(同步,委托 openaicompat)
  - 流式输出(SSE,委托 openaicompat)
  - Function Calling(deepseek-chat)
  - 健康检查、模型列表交集(委托 openaicompat)
*/
package deepseek
