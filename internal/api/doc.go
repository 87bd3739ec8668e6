// Package api 暴露 REST 接口：提交事故描述、查询运行状态与预案、查看统计。
// 配置了访问令牌时，/api/v1 下的路由需要 Bearer 认证。
package api
