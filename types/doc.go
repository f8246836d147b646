// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package types 提供网关的结构化错误体系。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、config 等上层
模块提供统一的错误契约，避免循环依赖。

所有可预期的失败都以 [Error] 表达：稳定的 [ErrorCode]、可读消息、
来源 Provider、是否可重试，以及限流场景下的恢复时间。编排器的
重试与故障转移决策完全由 Code 与 Retryable 驱动，不解析消息文本。

# 主要能力

  - 错误构造：NewNetwork / NewTimeout / NewRateLimit / NewAuthentication
    等按错误类别预置 Retryable 语义的构造函数
  - 错误工具链：AsError / CodeOf / IsRetryable，基于 errors.As 解包
  - 链式补充：WithCause / WithHTTPStatus，保留上游原始错误
*/
package types
