// Package llm 定义了流水线依赖的文本生成协作方：服务商适配器只需实现单样本的
// Completer，并发采样、重试、用量统计与缓存都在本包中组合完成。
package llm
