// ABOUTME: WebSocket bridge carrying the page handshake into a session
// ABOUTME: Relayed window messages pump through the handshake peer

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/aivie/widget-gateway/internal/handshake"
)

// pageControls is the slice of the handshake peer the session API drives:
// the widget-originated minimize and expand signals.
type pageControls interface {
	RequestMinimize(ctx context.Context) error
	ToggleExpand(ctx context.Context) (bool, error)
}

// pageMap tracks the connected page bridge per session id.
type pageMap struct {
	mu sync.Mutex
	m  map[string]pageControls
}

func newPageMap() *pageMap {
	return &pageMap{m: make(map[string]pageControls)}
}

func (p *pageMap) store(id string, page pageControls) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[id] = page
}

func (p *pageMap) get(id string) pageControls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[id]
}

// dropIf removes the entry only while it still maps to page, so a stale
// bridge tearing down cannot unregister its replacement.
func (p *pageMap) dropIf(id string, page pageControls) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m[id] == page {
		delete(p.m, id)
	}
}

func (p *pageMap) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, id)
}

// handleBridge upgrades to a WebSocket and relays window messages between
// the hosting page and the session's handshake peer. The session must exist
// before the bridge opens; pass its id as the session_id query parameter.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	orch := s.registry.Get(sessionID)
	if orch == nil {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.Widget.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("bridge upgrade failed", "error", err)
		return
	}

	ws := handshake.NewWSConn(conn)
	defer ws.Close()

	peer := handshake.NewPeer(ws, handshake.Events{
		OnUntrustedDrop: func(origin string) {
			droppedMessages.WithLabelValues("untrusted_origin").Inc()
		},
	}, s.logger)
	orch.SetPage(peer)
	s.pages.store(sessionID, peer)
	defer s.pages.dropIf(sessionID, peer)

	ctx := r.Context()
	if err := peer.AnnounceLoaded(ctx); err != nil {
		s.logger.Warn("failed to announce load", "error", err)
		return
	}
	if err := peer.AnnounceReady(ctx); err != nil {
		s.logger.Warn("failed to announce ready", "error", err)
		return
	}

	s.logger.Info("bridge connected", "session_id", sessionID)
	for {
		origin, message, err := ws.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Debug("bridge closed", "session_id", sessionID, "error", err)
			}
			return
		}
		orch.Monitor().Touch()
		peer.HandleMessage(origin, message)
	}
}
