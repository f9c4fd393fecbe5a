// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package northbound

import (
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/open-edge-platform/app-orch-artifacts/internal/engine"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
)

const (
	bufferSize = 1024 * 1024

	// allTypes subscribes to the events of every artifact type.
	allTypes = "*"

	subscribeOp    = "subscribe"
	subscribedOp   = "subscribed"
	unsubscribeOp  = "unsubscribe"
	unsubscribedOp = "unsubscribed"
	errorOp        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  bufferSize,
	WriteBufferSize: bufferSize,
}

// EventHandler relays artifact events to websocket sessions.
type EventHandler struct {
	engine    *engine.Engine
	listeners *notification.Listeners

	lock sync.RWMutex

	// map of session ID to session
	sessions map[string]*Session
}

func NewEventHandler(e *engine.Engine, listeners *notification.Listeners) *EventHandler {
	return &EventHandler{
		engine:    e,
		listeners: listeners,
		sessions:  make(map[string]*Session, 8),
	}
}

// Watch upgrades the incoming GET request into a websocket connection on which
// it creates a session accepting subscriptions to artifact types.
func (h *EventHandler) Watch(c *gin.Context) {
	creds, err := policy.FromContext(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has answered the request
		log.Warnf("Unable to upgrade watch request: %v", err)
		return
	}
	go h.startSession(NewSession(ws, h.listeners, creds))
}

func (h *EventHandler) addSession(s *Session) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.sessions[s.ID()] = s
}

func (h *EventHandler) removeSession(s *Session) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.sessions, s.ID())
	_ = s.Close()
}

// SessionCount returns the number of open watch sessions.
func (h *EventHandler) SessionCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.sessions)
}

func (h *EventHandler) startSession(session *Session) {
	h.addSession(session)
	session.Start()
	log.Infof("Started watch session %s for project %s", session.ID(), session.creds.ProjectID)

	defer func() {
		if err := recover(); err != nil {
			log.Warnf("Watch session error: %v", err)
		}
		h.removeSession(session)
		log.Infof("Stopped watch session %s", session.ID())
	}()

	for msg := range session.Listen() {
		switch msg.Op {
		case subscribeOp:
			if msg.Type != allTypes && !slices.Contains(h.engine.TypeNames(), msg.Type) {
				_ = session.Send(&Message{Op: errorOp, Type: msg.Type, Error: "unknown artifact type"})
				continue
			}
			session.addSubscription(msg.Type)
		case unsubscribeOp:
			session.removeSubscription(msg.Type)
		default:
			_ = session.Send(&Message{Op: errorOp, Type: msg.Type, Error: "unknown operation " + msg.Op})
		}
	}
}
