// Package mysql 将账本状态持久化到 MySQL，并负责执行内嵌的结构迁移。
package mysql
