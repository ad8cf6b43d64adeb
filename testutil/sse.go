package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// SSEServer 是一个按脚本输出 event-stream 的上游模拟
type SSEServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	status   int
	frames   []string
	rawTail  string
	blockEnd bool
}

// NewSSEServer 启动服务器，每个 frame 作为一行 "data: <frame>" 输出
func NewSSEServer(t *testing.T, frames ...string) *SSEServer {
	t.Helper()
	s := &SSEServer{status: http.StatusOK, frames: frames}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// WithStatus makes every response use status instead of 200.
func (s *SSEServer) WithStatus(status int) *SSEServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return s
}

// WithRawTail appends bytes verbatim after the frames (e.g. a partial line).
func (s *SSEServer) WithRawTail(tail string) *SSEServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawTail = tail
	return s
}

// BlockUntilClientGone keeps the stream open until the client disconnects.
func (s *SSEServer) BlockUntilClientGone() *SSEServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockEnd = true
	return s
}

// Requests returns the recorded request bodies.
func (s *SSEServer) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.bodies))
	copy(out, s.bodies)
	return out
}

// Headers returns the recorded request headers.
func (s *SSEServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Header, len(s.headers))
	copy(out, s.headers)
	return out
}

func (s *SSEServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.headers = append(s.headers, r.Header.Clone())
	status, frames, tail, block := s.status, s.frames, s.rawTail, s.blockEnd
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"status %d"}}`, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, f := range frames {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if tail != "" {
		_, _ = io.WriteString(w, tail)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if block {
		<-r.Context().Done()
	}
}
