// =============================================================================
// 📦 测试数据工厂 - 上游响应样例
// =============================================================================
// 常见兼容接口的流式帧与完整响应，供执行器与队列测试共用
// =============================================================================
package fixtures

import "fmt"

// SampleImageURL 是样例中使用的图片地址
const SampleImageURL = "https://img.test/cat.png"

// DataListResponse 返回 images 接口风格的响应
func DataListResponse(url string) string {
	return fmt.Sprintf(`{"data":[{"url":%q}]}`, url)
}

// MarkdownDeltaFrame 返回携带 Markdown 图片的 delta 帧
func MarkdownDeltaFrame(url string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":"![image](%s)"}}]}`, url)
}

// TextDeltaFrame 返回纯文本 delta 帧
func TextDeltaFrame(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)
}

// ImageURLDeltaFrame 返回 delta.image_url.url 帧
func ImageURLDeltaFrame(url string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"image_url":{"url":%q}}}]}`, url)
}

// ContentListDeltaFrame 返回 delta.content 为片段列表的帧
func ContentListDeltaFrame(parts ...string) string {
	list := "["
	for i, p := range parts {
		if i > 0 {
			list += ","
		}
		list += p
	}
	list += "]"
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%s}}]}`, list)
}

// FullMessageFrame 返回携带完整 message.content 列表的帧
func FullMessageFrame(parts ...string) string {
	list := "["
	for i, p := range parts {
		if i > 0 {
			list += ","
		}
		list += p
	}
	list += "]"
	return fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, list)
}

// ImagePart 返回 image_url 片段
func ImagePart(url string) string {
	return fmt.Sprintf(`{"type":"image_url","image_url":{"url":%q}}`, url)
}

// TextPart 返回 text 片段
func TextPart(text string) string {
	return fmt.Sprintf(`{"type":"text","text":%q}`, text)
}

// Done 是流结束标记
const Done = "[DONE]"
