// Package webadmin exposes the admin status websocket at
// {web_mountpoint}/admin/status, gated by the config's admin_key and
// streaming statusreport snapshots. Grounded on the teacher's use of
// gorilla/websocket, repurposed from its original surface to a read-only
// operational stream.
package webadmin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/globed-relay/core/internal/statusreport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Admin tooling is typically a CLI or same-origin dashboard; no
	// browser CORS story to support here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AdminKeyChecker reports the currently configured admin key, read fresh
// on every connection attempt so a hot-reloaded key takes effect
// immediately.
type AdminKeyChecker func() string

// Handler upgrades authorized requests to a websocket that streams one
// Snapshot (as JSON, matching the admin tooling's expected wire format)
// per tick from feed.
type Handler struct {
	AdminKey AdminKeyChecker
	Feed     func(stop <-chan struct{}) <-chan statusreport.Snapshot
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("admin_key") != h.AdminKey() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }
	defer closeStop()

	snapshots := h.Feed(stop)

	// Detect client-initiated close without blocking the write loop.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				closeStop()
				return
			}
		}
	}()

	for snap := range snapshots {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

// JSON is a helper for tests and CLI tooling that want a single snapshot
// encoded outside the websocket stream.
func JSON(s statusreport.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}
