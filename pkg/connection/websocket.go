// Package connection streams transcode sessions over WebSocket.
package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/pipeline"
)

// FinishMessage is the text message that ends the input of a stream.
const FinishMessage = "finish"

var ErrInputTooLarge = errors.New("stream input over limit")

// OpenFunc opens the session for one stream. Chunks must go to sink. An
// error is returned to the client as a plain HTTP response, before upgrade.
type OpenFunc func(r *http.Request, sink pipeline.ChunkSink) (*pipeline.Session, error)

// ErrorFunc writes a failed open as an HTTP response.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Status is the closing text message of a stream.
type Status struct {
	Type    string `json:"type"` // "done" or "error"
	Error   string `json:"error,omitempty"`
	Frames  int    `json:"frames"`
	Padded  int    `json:"padded"`
	Bytes   int    `json:"bytes"`
	Flushes int    `json:"flushes"`
}

// WebsocketHandler runs one session per connection. Binary messages are
// source bytes; every encoded chunk is sent back as a binary message as soon
// as the encoder produces it. The text message "finish" pads and drains the
// session, then a Status is sent and the connection closed. A positive
// MaxInputBytes bounds the source bytes of one stream.
type WebsocketHandler struct {
	Open          OpenFunc
	OnError       ErrorFunc
	MaxInputBytes int64
	Log           zerolog.Logger
	upgrader      websocket.Upgrader
}

func NewWebsocketHandler(open OpenFunc, onError ErrorFunc, allowedOrigins []string, maxInput int64, log zerolog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		Open:          open,
		OnError:       onError,
		MaxInputBytes: maxInput,
		Log:           log,
		upgrader: websocket.Upgrader{
			CheckOrigin:       originChecker(allowedOrigins),
			ReadBufferSize:    1024 * 16,
			WriteBufferSize:   1024 * 16,
			EnableCompression: false, // audio does not compress
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// connSink sends chunks to the peer. Only the read loop writes, so no lock.
type connSink struct {
	conn *websocket.Conn
}

func (s *connSink) WriteChunk(c pipeline.Chunk) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, c.Data)
}

func (wh *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sink := &connSink{}
	session, err := wh.Open(r, sink)
	if err != nil {
		wh.OnError(w, r, err)
		return
	}

	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = session.Close()
		wh.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	sink.conn = conn
	if wh.MaxInputBytes > 0 {
		conn.SetReadLimit(wh.MaxInputBytes)
	}

	log := wh.Log.With().Str("session", session.ID()).Logger()
	var total int64
	for {
		messageType, message, err := conn.ReadMessage()
		if errors.Is(err, websocket.ErrReadLimit) {
			_ = session.Close()
			wh.closeWith(conn, session, ErrInputTooLarge)
			return
		}
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read error")
			}
			_ = session.Close()
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			total += int64(len(message))
			if wh.MaxInputBytes > 0 && total > wh.MaxInputBytes {
				_ = session.Close()
				wh.closeWith(conn, session, fmt.Errorf("%w: more than %d bytes", ErrInputTooLarge, wh.MaxInputBytes))
				return
			}
			if _, err := session.Write(message); err != nil {
				wh.closeWith(conn, session, err)
				return
			}
		case websocket.TextMessage:
			if strings.TrimSpace(string(message)) != FinishMessage {
				log.Debug().Str("message", string(message)).Msg("ignoring text message")
				continue
			}
			_, err := session.Finish()
			wh.closeWith(conn, session, err)
			return
		}
	}
}

func (wh *WebsocketHandler) closeWith(conn *websocket.Conn, session *pipeline.Session, err error) {
	st := session.Stats()
	status := Status{
		Type:    "done",
		Frames:  st.FramesEncoded,
		Padded:  st.PaddedSamples,
		Bytes:   st.OutputBytes,
		Flushes: st.FlushCalls,
	}
	code, reason := websocket.CloseNormalClosure, ""
	if err != nil {
		status.Type = "error"
		status.Error = err.Error()
		code, reason = websocket.CloseUnsupportedData, "transcode failed"
		switch {
		case errors.Is(err, ErrInputTooLarge):
			code, reason = websocket.CloseMessageTooBig, "input too large"
		case errors.Is(err, pipeline.ErrSessionClosed):
			code = websocket.CloseInternalServerErr
		}
	}
	if data, jerr := json.Marshal(status); jerr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
