package httpapi

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-courses/internal/content"
)

// completionFeed streams the caller's completion changes for a course until
// either side closes the connection.
func (h *Handler) completionFeed(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("courseID")
	if !requireUser(r) {
		h.writeError(w, r, content.ErrUnauthorized)
		return
	}

	// Subscribe before the handshake completes so no change made after the
	// client sees the upgrade is missed.
	changes, cancel := h.svc.Subscribe(r.Context(), courseID)
	defer cancel()

	// The server's write timeout would otherwise cut long-lived feeds.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "course_id", courseID, "error", err)
		return
	}
	defer conn.CloseNow()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	h.log.Debug("completion feed opened", "course_id", courseID, "request_id", requestID(r.Context()))

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := wsjson.Write(ctx, conn, c); err != nil {
				h.log.Debug("completion feed write failed", "course_id", courseID, "error", err)
				return
			}
		}
	}
}
