package web

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"manin/internal/scanner"
	"manin/pkg/model"
)

const streamWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame on the scan stream
type StreamMessage struct {
	Type   string            `json:"type"` // page, done, error
	Page   int               `json:"page,omitempty"`
	Data   *model.ScanResult `json:"data,omitempty"`
	Detail string            `json:"detail,omitempty"`
}

// handleScanStream walks the universe in batch pages and pushes each page
// as soon as it is analyzed. It stops when the universe is exhausted or
// the client goes away.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", BatchDefaultLimit, BatchMinLimit, BatchMaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0, 0, math.MaxInt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := universeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	// the server read timeout would otherwise end the stream
	conn.SetReadDeadline(time.Time{})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(m)
	}

	for page := 1; ; page++ {
		res, err := s.Scanner.Scan(ctx, scanner.Request{Mode: model.ModeBatch, Limit: limit, Offset: offset, Universe: u})
		if ctx.Err() != nil {
			log.Debug().Int("pages", page-1).Msg("scan stream closed by client")
			return
		}
		if err != nil {
			log.Error().Err(err).Int("offset", offset).Msg("scan stream page failed")
			send(StreamMessage{Type: "error", Page: page, Detail: "scan failed"})
			return
		}
		if err := send(StreamMessage{Type: "page", Page: page, Data: res}); err != nil {
			log.Debug().Err(err).Msg("scan stream write failed")
			return
		}
		if !res.HasMore {
			send(StreamMessage{Type: "done", Page: page})
			return
		}
		offset = res.NextOffset
	}
}
