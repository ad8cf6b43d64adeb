package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/types"
)

// ExtractFunc resolves an image URL from a response shape; "" means none.
type ExtractFunc func(raw []byte) string

const (
	messageTemplate = `{"choices":[{"message":{}}]}`
	deltaTemplate   = `{"choices":[{"delta":{}}]}`
	partTemplate    = `{"type":"image_url","image_url":{}}`
)

// streamState folds parsed events into the final response shape.
type streamState struct {
	acc        []string // raw JSON of accumulated content parts
	lastParsed gjson.Result
	parsed     bool
	done       bool
	extract    ExtractFunc
}

// DecodeStream reads newline-delimited "data: <json>" frames until EOF.
//
// Array delta contents are appended to an accumulator, delta image URLs are
// appended as image_url parts, and a full message content list replaces the
// accumulator. A string delta that already carries an image returns
// {"url": ...} immediately. After "[DONE]" frames are drained but ignored.
// A trailing line without a newline at EOF is discarded.
func DecodeStream(ctx context.Context, body io.Reader, extract ExtractFunc) (json.RawMessage, error) {
	if extract == nil {
		extract = image.Extract
	}
	st := &streamState{extract: extract}
	reader := bufio.NewReader(body)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, types.NewStreamError("request aborted").WithCause(ctxErr)
			}
			return nil, types.NewStreamError("stream read failed").WithCause(err)
		}

		if url, ok := st.handleLine(line); ok {
			out, _ := sjson.SetBytes([]byte(`{}`), "url", url)
			return out, nil
		}
	}

	if len(st.acc) > 0 {
		content := "[" + strings.Join(st.acc, ",") + "]"
		out, err := sjson.SetRawBytes([]byte(messageTemplate), "choices.0.message.content", []byte(content))
		if err != nil {
			return nil, types.NewStreamError("failed to assemble content").WithCause(err)
		}
		return out, nil
	}
	if st.parsed && image.Truthy(st.lastParsed) {
		return json.RawMessage(st.lastParsed.Raw), nil
	}
	return nil, types.NewStreamError("no data parsed")
}

// handleLine returns an image URL when the line triggers an early exit.
func (s *streamState) handleLine(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return "", false
	}
	if s.done {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		s.done = true
		return "", false
	}
	if !gjson.Valid(payload) {
		return "", false
	}

	event := gjson.Parse(payload)
	s.lastParsed = event
	s.parsed = true

	choices := event.Get("choices")
	if !choices.IsArray() {
		return "", false
	}
	ch := choices.Get("0")

	delta := ch.Get("delta.content")
	if delta.IsArray() {
		for _, item := range delta.Array() {
			s.acc = append(s.acc, item.Raw)
		}
	}
	for _, path := range []string{"delta.image_url.url", "delta.url"} {
		if u := ch.Get(path); image.Truthy(u) {
			if part, err := sjson.SetRaw(partTemplate, "image_url.url", u.Raw); err == nil {
				s.acc = append(s.acc, part)
			}
		}
	}
	if delta.Type == gjson.String && delta.Str != "" {
		wrapped, err := sjson.SetBytes([]byte(deltaTemplate), "choices.0.delta.content", delta.Str)
		if err == nil {
			if url := s.extract(wrapped); url != "" {
				return url, true
			}
		}
	}
	if full := ch.Get("message.content"); full.IsArray() {
		items := full.Array()
		s.acc = s.acc[:0]
		for _, item := range items {
			s.acc = append(s.acc, item.Raw)
		}
	}
	return "", false
}
