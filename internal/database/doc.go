/*
包 database 负责打开 KV 持久化所用的关系型数据库并管理其连接池。

# 核心类型与函数

  - Open / Dialector：按驱动名（sqlite、postgres、mysql）构造 GORM 连接，
    sqlite 走 glebarez 纯 Go 驱动。
  - PoolManager：持有 GORM DB 与底层 sql.DB，负责连接池参数、
    后台健康检查（可选）与关闭。
  - PoolConfig：连接池配置，Validate 校验上下限。
*/
package database
