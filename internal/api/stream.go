package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/podushkina/uploadqueue/internal/progress"
	"github.com/podushkina/uploadqueue/internal/scheduler"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type StreamMessage struct {
	Type     string                `json:"type"`
	Snapshot *progress.Snapshot    `json:"snapshot,omitempty"`
	Batch    *scheduler.BatchEvent `json:"batch,omitempty"`
}

// Stream upgrades to a WebSocket and sends the current snapshot, then every
// newer snapshot and every batch completion until the client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	var (
		mu      sync.Mutex
		lastSeq uint64
		sent    bool
	)
	write := func(m StreamMessage) {
		mu.Lock()
		defer mu.Unlock()
		if m.Snapshot != nil {
			if sent && m.Snapshot.Seq <= lastSeq {
				return
			}
			sent = true
			lastSeq = m.Snapshot.Seq
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debugf("websocket write: %v", err)
			conn.Close()
		}
	}

	snaps := h.sched.SubscribeProgress(func(s progress.Snapshot) {
		write(StreamMessage{Type: "snapshot", Snapshot: &s})
	})
	defer snaps.Close()
	batches := h.sched.SubscribeBatches(func(ev scheduler.BatchEvent) {
		write(StreamMessage{Type: "batch_complete", Batch: &ev})
	})
	defer batches.Close()

	initial := h.sched.Snapshot()
	write(StreamMessage{Type: "snapshot", Snapshot: &initial})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
