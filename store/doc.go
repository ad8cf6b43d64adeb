/*
包 store 持久化生成记录与历史记录。

两个 store 各自对应一个固定键下的 JSON 记录：

  - GenerationStore → "generation-store"：{concurrencyLimit, generatedImages}
  - HistoryStore    → "history-store"：{images, currentPage, pageSize}

记录写入 KV 接口，可选后端：

  - SQLKV：通过 gorm 写入 kv_records 表（sqlite / postgres / mysql）
  - RedisKV：通过 internal/cache 写入 Redis
  - MemoryKV：仅进程内存

所有变更操作都会立即写回；加载时缺失或为零的字段回落到默认值。
*/
package store
