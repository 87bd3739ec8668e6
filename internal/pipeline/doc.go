// Package pipeline 实现化工事故应急预案的三阶段提示链：情景分析、影响评估、响应计划。
//
// 每个阶段渲染提示、调用大模型、从回复中提取并修补 JSON、按阶段期望键校验，
// 然后把结果并入新的状态交给下一阶段。单个阶段没有可用回复时使用兜底对象继续执行。
package pipeline
