package image

import (
	"encoding/json"
	"regexp"

	"github.com/tidwall/gjson"
)

// =============================================================================
// 响应提取器
// =============================================================================
// 各家兼容接口返回图片的位置并不统一，这里按固定优先级逐个尝试，
// 第一个结构上命中的策略胜出。命中但值为空串同样终止查找。

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	videoTagPattern      = regexp.MustCompile(`(?i)<video[^>]*src=['"]([^'"]+)['"][^>]*>`)

	base64Fields = []string{"b64_json", "image_base64", "base64"}
)

// Strategy recognises one response shape.
// ok reports a structural match; url may still be empty in that case.
type Strategy interface {
	Name() string
	Extract(doc gjson.Result) (url string, ok bool)
}

// DefaultStrategies is the priority order used by Extract.
var DefaultStrategies = []Strategy{
	dataListStrategy{},
	messageContentListStrategy{},
	messageContentTextStrategy{},
	deltaURLStrategy{},
	deltaContentTextStrategy{},
	deltaBase64Strategy{},
	topLevelURLStrategy{},
}

// Extractor runs strategies in order over a JSON document.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor creates an extractor. With no strategies it uses DefaultStrategies.
func NewExtractor(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Extractor{strategies: strategies}
}

// Extract returns the first image URL or data URL found in raw, or "" when
// nothing matches. It never panics.
func (e *Extractor) Extract(raw []byte) (url string) {
	defer func() {
		if r := recover(); r != nil {
			url = ""
		}
	}()

	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ""
	}
	doc := gjson.ParseBytes(raw)
	if !Truthy(doc) {
		return ""
	}
	for _, s := range e.strategies {
		if u, ok := s.Extract(doc); ok {
			return u
		}
	}
	return ""
}

var defaultExtractor = NewExtractor()

// Extract runs the default strategy chain over raw JSON.
func Extract(raw []byte) string {
	return defaultExtractor.Extract(raw)
}

// ExtractFromValue marshals v and extracts from the result.
func ExtractFromValue(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return Extract(raw)
}

// FindInText looks for a Markdown image reference, then a <video src> tag.
func FindInText(s string) string {
	if m := markdownImagePattern.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
		return m[1]
	}
	if m := videoTagPattern.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return ""
}

// =============================================================================
// 策略实现
// =============================================================================

type dataListStrategy struct{}

func (dataListStrategy) Name() string { return "data_list" }

func (dataListStrategy) Extract(doc gjson.Result) (string, bool) {
	data := doc.Get("data")
	if !data.IsArray() {
		return "", false
	}
	first := data.Get("0")
	if u := first.Get("url"); u.Type == gjson.String {
		return u.Str, true
	}
	if u := first.Get("image_url.url"); u.Type == gjson.String {
		return u.Str, true
	}
	if b64, ok := base64Of(first); ok {
		return pngDataURL(b64), true
	}
	return "", false
}

type messageContentListStrategy struct{}

func (messageContentListStrategy) Name() string { return "message_content_list" }

func (messageContentListStrategy) Extract(doc gjson.Result) (string, bool) {
	first, ok := firstChoice(doc)
	if !ok {
		return "", false
	}
	content := first.Get("message.content")
	if !content.IsArray() {
		return "", false
	}
	for _, item := range content.Array() {
		typ := item.Get("type")
		kind := ""
		if typ.Type == gjson.String {
			kind = typ.Str
		}
		imageURL := item.Get("image_url.url")
		switch kind {
		case "image_url":
			if Truthy(imageURL) {
				return imageURL.String(), true
			}
		case "input_image", "image", "output_image":
			if Truthy(imageURL) {
				return imageURL.String(), true
			}
			if u := item.Get("url"); Truthy(u) {
				return u.String(), true
			}
		}
		if b64, ok := base64Of(item); ok {
			return pngDataURL(b64), true
		}
	}
	return "", false
}

type messageContentTextStrategy struct{}

func (messageContentTextStrategy) Name() string { return "message_content_text" }

func (messageContentTextStrategy) Extract(doc gjson.Result) (string, bool) {
	first, ok := firstChoice(doc)
	if !ok {
		return "", false
	}
	return textMatch(first.Get("message.content"))
}

type deltaURLStrategy struct{}

func (deltaURLStrategy) Name() string { return "delta_url" }

func (deltaURLStrategy) Extract(doc gjson.Result) (string, bool) {
	first, ok := firstChoice(doc)
	if !ok {
		return "", false
	}
	if u := first.Get("delta.image_url.url"); Truthy(u) {
		return u.String(), true
	}
	if u := first.Get("delta.url"); u.Type == gjson.String {
		return u.Str, true
	}
	return "", false
}

type deltaContentTextStrategy struct{}

func (deltaContentTextStrategy) Name() string { return "delta_content_text" }

func (deltaContentTextStrategy) Extract(doc gjson.Result) (string, bool) {
	first, ok := firstChoice(doc)
	if !ok {
		return "", false
	}
	return textMatch(first.Get("delta.content"))
}

type deltaBase64Strategy struct{}

func (deltaBase64Strategy) Name() string { return "delta_base64" }

func (deltaBase64Strategy) Extract(doc gjson.Result) (string, bool) {
	first, ok := firstChoice(doc)
	if !ok {
		return "", false
	}
	if b64, ok := base64Of(first.Get("delta")); ok {
		return pngDataURL(b64), true
	}
	return "", false
}

type topLevelURLStrategy struct{}

func (topLevelURLStrategy) Name() string { return "top_level_url" }

func (topLevelURLStrategy) Extract(doc gjson.Result) (string, bool) {
	if u := doc.Get("image_url.url"); Truthy(u) {
		return u.String(), true
	}
	if u := doc.Get("url"); u.Type == gjson.String {
		return u.Str, true
	}
	return "", false
}

// =============================================================================
// 辅助函数
// =============================================================================

// firstChoice requires choices to be a list; the element itself may be absent.
func firstChoice(doc gjson.Result) (gjson.Result, bool) {
	choices := doc.Get("choices")
	if !choices.IsArray() {
		return gjson.Result{}, false
	}
	return choices.Get("0"), true
}

func textMatch(v gjson.Result) (string, bool) {
	if v.Type != gjson.String || v.Str == "" {
		return "", false
	}
	if u := FindInText(v.Str); u != "" {
		return u, true
	}
	return "", false
}

// base64Of takes the first truthy field among base64Fields; it must be a string.
func base64Of(obj gjson.Result) (string, bool) {
	for _, name := range base64Fields {
		v := obj.Get(name)
		if !Truthy(v) {
			continue
		}
		if v.Type == gjson.String {
			return v.Str, true
		}
		return "", false
	}
	return "", false
}

func pngDataURL(b64 string) string {
	return "data:image/png;base64," + b64
}

// Truthy follows loose JSON truthiness: absent, null, false, 0 and "" are false.
func Truthy(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	default:
		return true
	}
}
