package httpapi

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	applog "github.com/crewhours/shiftsync/internal/log"
	"github.com/crewhours/shiftsync/internal/shiftsync"
)

// ReportHub fans completed sync reports out to websocket subscribers. A slow
// subscriber drops reports instead of stalling the sync path.
type ReportHub struct {
	mu          sync.Mutex
	subscribers map[chan shiftsync.SyncReport]struct{}
}

func NewReportHub() *ReportHub {
	return &ReportHub{subscribers: map[chan shiftsync.SyncReport]struct{}{}}
}

// Publish implements shiftsync.ReportPublisher.
func (h *ReportHub) Publish(report shiftsync.SyncReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- report:
		default:
		}
	}
}

func (h *ReportHub) subscribe() (chan shiftsync.SyncReport, func()) {
	ch := make(chan shiftsync.SyncReport, 8)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports how many watchers are connected.
func (h *ReportHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// handleWatch streams each completed sync report to the client as one JSON
// message per report.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if _, _, ok := s.requireSession(w, r, correlationID); !ok {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		applog.Error("websocket accept failed", err)
		return
	}
	defer conn.CloseNow()

	reports, cancel := s.hub.subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case report := <-reports:
			if err := wsjson.Write(ctx, conn, report); err != nil {
				return
			}
		}
	}
}
