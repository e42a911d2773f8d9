package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/logger"
)

const (
	wsPollInterval = time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

// ProgressReader is the slice of the scan driver the stream needs
type ProgressReader interface {
	Progress(ctx context.Context, scanID string) (*contracts.Progress, error)
}

// ProgressStream pushes scan progress over a websocket until the scan ends
type ProgressStream struct {
	progress ProgressReader
	upgrader websocket.Upgrader
	poll     time.Duration
	logger   *logger.Logger
}

// NewProgressStream creates a progress stream handler
func NewProgressStream(progress ProgressReader, log *logger.Logger) *ProgressStream {
	return &ProgressStream{
		progress: progress,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		poll:   wsPollInterval,
		logger: log,
	}
}

// Serve streams one scan
// GET /ws/scan/{id}
func (s *ProgressStream) Serve(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["id"]

	if _, err := s.progress.Progress(r.Context(), scanID); err != nil {
		if errors.Is(err, scan.ErrScanNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithField("scan_id", scanID)
	log.Debug("Progress stream opened")

	// reader only drains control frames and notices the client leaving
	closed := make(chan struct{})
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	var last time.Time
	var lastStatus contracts.Status
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			log.Debug("Progress stream closed by client")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-poll.C:
			prog, err := s.progress.Progress(r.Context(), scanID)
			if err != nil {
				log.WithError(err).Warn("Progress stream lost its scan")
				s.close(conn, websocket.CloseInternalServerErr, "scan unavailable")
				return
			}
			if prog.UpdatedAt.Equal(last) && prog.Status == lastStatus {
				continue
			}
			last, lastStatus = prog.UpdatedAt, prog.Status

			prog.Candidates = nil
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(prog); err != nil {
				return
			}
			if prog.Status.IsTerminal() {
				s.close(conn, websocket.CloseNormalClosure, string(prog.Status))
				return
			}
		}
	}
}

func (s *ProgressStream) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
