// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 gemini 提供 Google Gemini 的 Provider 适配实现。Gemini 不走
OpenAI 兼容协议,本包自带线格式转换:

  - 认证使用 URL 查询参数 key,而非请求头
  - 消息映射为 contents[],角色 assistant 改写为 model
  - system 消息与 SystemPrompt 上提为顶层 systemInstruction
  - 函数定义映射为 tools[].functionDeclarations

# 端点

  - 同步: /v1beta/models/{model}:generateContent
  - 流式: /v1beta/models/{model}:streamGenerateContent?alt=sse
  - 探活与模型列表: /v1beta/models

# 结束原因映射

  STOP → stop,MAX_TOKENS → length,SAFETY/RECITATION/OTHER → error
*/
package gemini
