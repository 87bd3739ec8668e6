// Package agent 把一次事故描述转换为完整的应急预案：执行三阶段流水线、
// 校验阶段快照、持久化文档，并把阶段兜底情况通报给告警渠道。
package agent
