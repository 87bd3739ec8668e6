// Package config 负责加载应急预案生成服务的配置文件，并为缺省字段填充默认值。
package config
