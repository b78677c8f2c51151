package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	dictateReadLimit    = 1 << 20
	dictateWriteTimeout = 10 * time.Second
)

// Control messages exchanged on the dictation socket. Audio travels as
// binary frames of PCM16 mono at the service sample rate.
type dictateMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Model      string `json:"model,omitempty"`
	Streaming  bool   `json:"streaming,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(h.options.CORSAllowedOrigins, origin)
		},
	}
}

// HandleDictation handles GET /api/v1/dictate?model=<id>. Binary frames
// are appended to the recording; {"type":"stop"} returns the transcript;
// {"type":"cancel"} or a disconnect cancels the recording.
func (h *Handler) HandleDictation(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("model")
	model, err := h.service.Catalog().Resolve(modelID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()
	if !h.trackSocket(conn) {
		closeSocket(conn, websocket.CloseGoingAway)
		return
	}
	defer h.untrackSocket(conn)
	conn.SetReadLimit(dictateReadLimit)

	send := func(msg dictateMessage) error {
		conn.SetWriteDeadline(time.Now().Add(dictateWriteTimeout))
		return conn.WriteJSON(msg)
	}

	ctx := r.Context()
	rec, err := h.service.Start(ctx, model.ID)
	if err != nil {
		send(dictateMessage{Type: "error", Error: err.Error()})
		return
	}
	// Any exit path that did not stop the recording cancels it
	defer rec.Cancel()

	if err := send(dictateMessage{
		Type:       "ready",
		ID:         rec.ID(),
		Model:      model.ID,
		Streaming:  rec.Streaming(),
		SampleRate: h.service.Format().SampleRate,
	}); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Dictation socket closed", logger.Error(err))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := rec.Write(data); err != nil {
				send(dictateMessage{Type: "error", Error: err.Error()})
				return
			}

		case websocket.TextMessage:
			var msg dictateMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				send(dictateMessage{Type: "error", Error: "invalid control message"})
				continue
			}

			switch msg.Type {
			case "stop":
				text, err := rec.Stop(ctx)
				if err != nil {
					send(dictateMessage{Type: "error", ID: rec.ID(), Error: err.Error()})
				} else {
					send(dictateMessage{Type: "transcript", ID: rec.ID(), Text: text})
				}
				closeSocket(conn, websocket.CloseNormalClosure)
				return
			case "cancel":
				rec.Cancel()
				send(dictateMessage{Type: "cancelled", ID: rec.ID()})
				return
			default:
				send(dictateMessage{Type: "error", Error: "unknown message type " + msg.Type})
			}
		}
	}
}

func (h *Handler) trackSocket(conn *websocket.Conn) bool {
	h.socketsMu.Lock()
	defer h.socketsMu.Unlock()
	if h.closing {
		return false
	}
	h.sockets[conn] = struct{}{}
	return true
}

func (h *Handler) untrackSocket(conn *websocket.Conn) {
	h.socketsMu.Lock()
	delete(h.sockets, conn)
	h.socketsMu.Unlock()
}

// CloseDictations sends a going-away close frame to every live dictation
// socket and closes it. The read loops then fail and cancel their
// recordings. Sockets upgraded afterwards are refused.
func (h *Handler) CloseDictations() {
	h.socketsMu.Lock()
	h.closing = true
	conns := make([]*websocket.Conn, 0, len(h.sockets))
	for conn := range h.sockets {
		conns = append(conns, conn)
	}
	h.socketsMu.Unlock()

	if len(conns) > 0 {
		h.logger.Info("Closing dictation sockets", logger.Int("count", len(conns)))
	}
	for _, conn := range conns {
		closeSocket(conn, websocket.CloseGoingAway)
		conn.Close()
	}
}

// closeSocket writes a close frame; WriteControl is safe alongside other writers
func closeSocket(conn *websocket.Conn, code int) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second))
}
