// Copyright 2026 AIGateway Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的网关指标采集，覆盖 provider 调用、
Token 用量与成本、健康巡检、缓存与排队五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
运行期固定为 ai，测试里用随机 namespace 规避重复注册。

# 主要指标

  - provider 调用：请求总数（provider/model/status）、请求耗时直方图。
  - 用量与成本：Token 计数（prompt/completion 双 label）、估算成本累计。
  - 健康巡检：provider_healthy Gauge 与巡检耗时直方图。
  - 缓存：命中与未命中计数。
  - 排队：队列深度与在途请求数 Gauge。

Collector 的所有记录方法都容忍 nil 接收者，调用方无需判空。
*/
package metrics
