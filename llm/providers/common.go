package providers

import (
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/types"
)

// MapHTTPError 将非 2xx 状态码映射为 NetworkError。
// 401/403 带独立错误码，只用于日志区分，不做特殊恢复。
func MapHTTPError(status int, msg string, provider string) *types.Error {
	return types.NewNetworkError(status, msg).WithProvider(provider)
}

// ReadErrorMessage 读取错误响应体，优先取 JSON 中的 error.message
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	if gjson.ValidBytes(data) {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(data, "message").String()
		}
		if msg != "" {
			if typ := gjson.GetBytes(data, "error.type").String(); typ != "" {
				return msg + " (type: " + typ + ")"
			}
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// Endpoint joins base and path, dropping trailing slashes from base.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// =============================================================================
// Chat completions 请求体
// =============================================================================

// ImageURL 是 image_url 内容片段的载荷
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart 是 user 消息中的一个片段（text 或 image_url）
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ChatMessage 是单条消息，content 始终为片段列表
type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ChatRequest 是发往 /v1/chat/completions 的请求体
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// BuildContent 按顺序组装用户消息片段：非空 prompt 的文本片段在前，
// 随后是 ReferenceImage 与 ReferenceImages 中每个非 nil 文件的图片片段。
func BuildContent(req *image.GenerationRequest, logger *zap.Logger) ([]ContentPart, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	content := make([]ContentPart, 0, 1+len(req.ReferenceImages))
	if strings.TrimSpace(req.Prompt) != "" {
		content = append(content, ContentPart{Type: "text", Text: req.Prompt})
	}

	if req.ReferenceImage != nil {
		part, mime, err := imagePart(req.ReferenceImage)
		if err != nil {
			return nil, err
		}
		content = append(content, part)
		logger.Debug("image attached",
			zap.String("mime", mime),
			zap.Int("len", len(part.ImageURL.URL)))
	}

	if len(req.ReferenceImages) > 0 {
		attached := 0
		for _, f := range req.ReferenceImages {
			if f == nil {
				continue
			}
			part, _, err := imagePart(f)
			if err != nil {
				return nil, err
			}
			content = append(content, part)
			attached++
		}
		logger.Debug("multiple images attached", zap.Int("count", attached))
	}
	return content, nil
}

func imagePart(f image.File) (ContentPart, string, error) {
	dataURL, err := image.EncodeReference(f)
	if err != nil {
		return ContentPart{}, "", err
	}
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}}, image.CanonicalFile(f).Type(), nil
}

// HasImage reports whether any part is an image_url with a non-empty URL.
func HasImage(content []ContentPart) bool {
	for _, c := range content {
		if c.Type == "image_url" && c.ImageURL != nil && c.ImageURL.URL != "" {
			return true
		}
	}
	return false
}

// DecodeModelList 解析 /v1/models 响应：接受 {data:[...]} 或裸数组，
// 每项取 id，缺失时取 name，空值丢弃；其它结构返回空列表。
func DecodeModelList(raw []byte) []string {
	if !gjson.ValidBytes(raw) {
		return []string{}
	}
	doc := gjson.ParseBytes(raw)
	list := doc.Get("data")
	if !list.IsArray() {
		if !doc.IsArray() {
			return []string{}
		}
		list = doc
	}

	models := make([]string, 0, len(list.Array()))
	for _, m := range list.Array() {
		id := m.Get("id")
		if !image.Truthy(id) {
			id = m.Get("name")
		}
		if image.Truthy(id) {
			models = append(models, id.String())
		}
	}
	return models
}
