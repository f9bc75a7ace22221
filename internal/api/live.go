package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const liveWriteTimeout = 5 * time.Second

// live streams the session's live view over a websocket. A frame is sent
// whenever the view changes. The stream ends with a normal closure once the
// session reaches a terminal phase.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Live(id); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("api: live accept", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends data frames; CloseRead handles control frames
	// and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.liveInterval)
	defer ticker.Stop()

	var last []byte
	for {
		view, err := s.sessions.Live(id)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, "session expired")
			return
		}
		data, err := json.Marshal(view)
		if err != nil {
			slog.Error("api: live encode", "session_id", id, "err", err)
			conn.Close(websocket.StatusInternalError, "encode failed")
			return
		}
		if !bytes.Equal(data, last) {
			if err := writeFrame(ctx, conn, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("api: live write", "session_id", id, "err", err)
				}
				return
			}
			last = data
		}
		if view.Phase.Terminal() {
			conn.Close(websocket.StatusNormalClosure, string(view.Phase))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
