// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 llm 是网关的核心接入层：统一的请求与响应模型、Provider 抽象,
以及把选路、熔断、缓存、排队、重试与统计串成一条执行管线的编排器。

# 概述

本包的目标是屏蔽不同模型服务商在接口、鉴权、错误语义和流式协议上的
差异。上层只面对 [Request] / [Response] / [StreamChunk] 三个数据模型,
底层适配器负责翻译为各家协议。

典型场景：

- 单一 Provider 的快速接入与调用。
- 多 Provider 打分选路与故障转移。
- 流式输出与函数调用。
- 缓存、重试、熔断、排队与成本统计。

# Provider 抽象

核心接口是 [Provider]，包含补全、流式输出、健康检查与模型能力声明。
实现位于 llm/providers 的子包中，由 llm/factory 按配置构造并注册到
[Registry]。

# 执行管线

[Orchestrator] 是唯一的执行入口：

  - [Orchestrator.Execute]：缓存查找 → 准入排队 → 打分选路 →
    熔断保护下的调用 → 指数退避重试与故障转移 → 统计落账。
  - [Orchestrator.ExecuteStream]：同一条管线的流式版本,通道建立前
    允许换路重试,建立后绑定该 Provider。

[Router] 对通过可用性与能力过滤的候选按加法模型打分（可靠性、成本
匹配、能力加成、模型加成、熔断扣分），并给出置信度与候选回退列表。
[StatsCollector] 维护全局与按 Provider 的请求计数、滚动成功率与
估算成本，这些信号又反哺打分。

# 相关子包

- llm/providers：各模型服务商适配实现。
- llm/factory：按配置构造适配器并组装注册表。
- llm/catalog：静态模型目录、token 估算与成本估算。
- llm/cache：响应缓存与请求指纹。
- llm/circuitbreaker：按 Provider 维度的熔断状态机。
- llm/ratelimit：客户端限流。
- llm/retry：指数退避。
*/
package llm
