// Package mysql 提供 MySQL 连接池与嵌入式 schema 迁移，
// 运行记录的读写由 internal/task.MySQLStore 完成。
package mysql
