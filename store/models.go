package store

// ImageStatus 生成记录的状态
type ImageStatus string

const (
	StatusPending   ImageStatus = "pending"
	StatusCompleted ImageStatus = "completed"
	StatusFailed    ImageStatus = "failed"
)

// GeneratedImage 一次生成请求的持久化记录。
// 提交时以 pending 创建，结算后改为 completed 或 failed。
type GeneratedImage struct {
	ID              string      `json:"id"`
	URL             string      `json:"url"`
	Prompt          string      `json:"prompt"`
	Timestamp       int64       `json:"timestamp"`
	Status          ImageStatus `json:"status"`
	Violation       bool        `json:"violation,omitempty"`
	ViolationReason string      `json:"violationReason,omitempty"`
}

// 持久化记录的 JSON 形状，不带版本号，缺失字段在加载时回落到默认值。

type generationState struct {
	ConcurrencyLimit int              `json:"concurrencyLimit"`
	GeneratedImages  []GeneratedImage `json:"generatedImages"`
}

type historyState struct {
	Images      []GeneratedImage `json:"images"`
	CurrentPage int              `json:"currentPage"`
	PageSize    int              `json:"pageSize"`
}
