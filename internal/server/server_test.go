package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/pkg/config"
	"github.com/joelsemar/django-webservice-tools/pkg/connection"
)

func testServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Transcode.From = "raw"
	cfg.Transcode.To = "l16"
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, zerolog.Nop())
}

func post(t *testing.T, s *Server, query string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/transcode"+query, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not json: %q", rec.Body.String())
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestTranscodeRawToL16(t *testing.T) {
	s := testServer(t, nil)
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 50)
	}
	in := convert.Int16ToBytes(samples)

	rec := post(t, s, "?mode=20", in)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/L16" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.Bytes()
	if len(out) != 320 {
		t.Fatalf("output length = %d, want 320", len(out))
	}
	if !bytes.Equal(out[:len(in)], in) {
		t.Error("samples changed")
	}
	for i, b := range out[len(in):] {
		if b != 0 {
			t.Fatalf("pad byte %d = %#x, want 0", i, b)
		}
	}
	if got := rec.Header().Get("X-Transcode-Padded"); got != "60" {
		t.Errorf("padded header = %q, want 60", got)
	}
}

func TestTranscodePCMUToL16(t *testing.T) {
	s := testServer(t, nil)
	in := bytes.Repeat([]byte{0xFF}, 240) // mu-law silence, one and a half 30ms frames

	rec := post(t, s, "?from=pcmu&mode=30", in)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.Len(); got != 480 {
		t.Fatalf("output length = %d, want 480", got)
	}
	if got := rec.Header().Get("X-Transcode-Frames"); got != "1" {
		t.Errorf("frames header = %q, want 1", got)
	}
}

func TestTranscodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		body   []byte
		status int
	}{
		{"invalid mode", "?mode=25", make([]byte, 320), http.StatusBadRequest},
		{"unknown target", "?to=flac", make([]byte, 320), http.StatusUnprocessableEntity},
		{"unknown source", "?from=gsm", make([]byte, 320), http.StatusUnprocessableEntity},
		{"partial sample", "", make([]byte, 321), http.StatusUnprocessableEntity},
		{"bad input format", "?format=s24", make([]byte, 320), http.StatusBadRequest},
	}
	s := testServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, tt.query, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if errorBody(t, rec) == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.HTTP.MaxBodyBytes = 64 })
	rec := post(t, s, "", make([]byte, 1024))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestOutputLimit(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.Transcode.MaxOutputBytes = 320 })
	rec := post(t, s, "", make([]byte, 640))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.HTTP.MaxConcurrent = 1 })
	s.slots <- struct{}{}

	rec := post(t, s, "", make([]byte, 320))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	<-s.slots
	rec = post(t, s, "", make([]byte, 320))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after release = %d, want 200", rec.Code)
	}
}

func TestRunShutdown(t *testing.T) {
	s := testServer(t, func(c *config.Config) {
		c.HTTP.Address = "127.0.0.1"
		c.HTTP.Port = 0
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func dialStream(t *testing.T, s *Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestStream(t *testing.T) {
	s := testServer(t, nil)
	conn, _, err := dialStream(t, s, "?mode=20")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// 200 samples: one full 160 sample frame now, 40 padded on finish
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 400)); err != nil {
		t.Fatal(err)
	}
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read first chunk: %v", err)
	}
	if typ != websocket.BinaryMessage || len(data) != 320 {
		t.Fatalf("first message type %d len %d, want binary 320", typ, len(data))
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(connection.FinishMessage)); err != nil {
		t.Fatal(err)
	}
	typ, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read tail chunk: %v", err)
	}
	if typ != websocket.BinaryMessage || len(data) != 320 {
		t.Fatalf("tail message type %d len %d, want binary 320", typ, len(data))
	}

	typ, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("status message type %d", typ)
	}
	var st connection.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	want := connection.Status{Type: "done", Frames: 2, Padded: 120, Bytes: 640, Flushes: 1}
	if st != want {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}

func TestStreamPartialSample(t *testing.T) {
	s := testServer(t, nil)
	conn, _, err := dialStream(t, s, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(connection.FinishMessage)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	var st connection.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Type != "error" || st.Error == "" {
		t.Errorf("status = %+v, want an error", st)
	}
}

func TestStreamRejectedBeforeUpgrade(t *testing.T) {
	s := testServer(t, nil)
	_, resp, err := dialStream(t, s, "?mode=45")
	if err == nil {
		t.Fatal("dial succeeded for an invalid mode")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v, want 400", resp)
	}
}

func TestStreamInputLimit(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.HTTP.MaxBodyBytes = 500 })
	conn, _, err := dialStream(t, s, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 400)); err != nil {
		t.Fatal(err)
	}
	if _, data, err := conn.ReadMessage(); err != nil || len(data) != 320 {
		t.Fatalf("first chunk: %d bytes, %v", len(data), err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 400)); err != nil {
		t.Fatal(err)
	}

	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("status message type %d", typ)
	}
	var st connection.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Type != "error" || !strings.Contains(st.Error, "over limit") {
		t.Errorf("status = %+v, want input limit error", st)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Errorf("close = %v, want 1009", err)
	}
}
