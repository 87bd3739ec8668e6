// Package redis 基于 Redis 提供模型回复缓存，多个实例可以共享同一份缓存。
package redis
