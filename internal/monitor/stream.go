package monitor

import (
	"net/http"

	"github.com/haptic-data/touch.report/internal/httputil"
	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// handleContactStream streams contact snapshots to the client as server-sent
// events. The first event is the latest buffered snapshot so clients render
// immediately; subsequent events arrive at the publish cadence. Slow clients
// miss snapshots rather than stalling the publisher.
func (ws *WebServer) handleContactStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.broadcaster == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "contact stream not running")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	id, ch := ws.broadcaster.Subscribe()
	defer ws.broadcaster.Unsubscribe(id)

	httputil.SetSSEHeaders(w)

	if latest, ok := ws.ring.Latest(); ok {
		if err := writeSnapshot(w, latest); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSnapshot(w, snap); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snap tactile.ContactSnapshot) error {
	data, err := tactile.EncodeSnapshot(snap)
	if err != nil {
		monitoring.Logf("sse: encoding snapshot: %v", err)
		return err
	}
	return httputil.WriteSSEEvent(w, data)
}
