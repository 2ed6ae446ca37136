package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	logPollInterval = 200 * time.Millisecond
	logPingInterval = 30 * time.Second
	logWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobLogs streams a job's log over WebSocket, one message per line,
// starting at the optional ?since= line offset. The connection is closed
// with the job's final status as reason once every line has been sent.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	job := s.Jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("since"))
	if err != nil || offset < 0 {
		offset = 0
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Debug().Err(err).Str("job", job.ID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := func(kind int, data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(logWriteWait))
		return conn.WriteMessage(kind, data)
	}

	poll := time.NewTicker(logPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(logPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(logWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				return
			}
		case <-poll.C:
			// State first: lines appended before completion are then
			// guaranteed to be in this batch.
			done := job.Done()
			lines := job.LogsSince(offset)
			for _, line := range lines {
				if err := send(websocket.TextMessage, []byte(line)); err != nil {
					return
				}
			}
			offset += len(lines)
			if done && len(lines) == 0 {
				send(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.State()))
				return
			}
		}
	}
}
