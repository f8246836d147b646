// Package config 提供网关的配置管理。
//
// 配置从三层合并:内置默认值 → 可选 YAML 文件(AI_CONFIG_PATH 指定)
// → 环境变量(前缀 AI_)。加载后统一校验,所有违例拼成一个错误返回,
// 启动失败时一次性暴露全部问题。
package config
