// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package northbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/open-edge-platform/app-orch-artifacts/internal/notification"
	"github.com/open-edge-platform/app-orch-artifacts/internal/policy"
)

const (
	maxMessageSize = 8 * 1024
	maxWriteWait   = 5 * time.Second
	eventBuffer    = 64
)

var (
	pingPeriod  = 5 * time.Second
	maxPongWait = 15 * time.Second
)

// Message is a subscription control message, or an event relayed to the
// client. Events carry the event type as their op.
type Message struct {
	Op    string              `json:"op"`
	Type  string              `json:"type,omitempty"`
	Error string              `json:"error,omitempty"`
	Event *notification.Event `json:"event,omitempty"`
}

// Session represents a watch-event session.
type Session struct {
	id        string
	ws        *websocket.Conn
	listeners *notification.Listeners
	creds     *policy.Credentials

	messages chan *Message
	m        sync.Mutex
	once     sync.Once
	cancel   context.CancelFunc

	// subscribed artifact type to listener removal
	cancellations map[string]func()
}

// NewSession creates a new session backed by the specified socket connection.
func NewSession(ws *websocket.Conn, listeners *notification.Listeners, creds *policy.Credentials) *Session {
	return &Session{
		id:            uuid.NewString(),
		ws:            ws,
		listeners:     listeners,
		creds:         creds,
		messages:      make(chan *Message),
		cancellations: make(map[string]func()),
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Start kicks off reading client messages and pinging the client.
func (s *Session) Start() {
	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(maxPongWait))
	s.ws.SetPongHandler(func(string) error {
		_ = s.ws.SetReadDeadline(time.Now().Add(maxPongWait))
		return nil
	})
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.receive(cancel)
		go s.ping(ctx)
	})
}

// receive forwards client messages until the connection fails or closes.
func (s *Session) receive(cancel context.CancelFunc) {
	defer func() {
		cancel()
		close(s.messages)
	}()
	for {
		msg := &Message{}
		if err := s.ws.ReadJSON(msg); err != nil {
			s.handleError(err)
			return
		}
		s.messages <- msg
	}
}

func (s *Session) ping(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.send(websocket.PingMessage)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) send(msgType int) {
	s.m.Lock()
	defer s.m.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(maxWriteWait))
	if err := s.ws.WriteMessage(msgType, nil); err != nil {
		s.handleError(err)
	}
}

func (s *Session) handleError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
		log.Debugf("Session %s closed: %v", s.id, err)
		return
	}
	log.Warnf("Session %s error: %v", s.id, err)
}

// Close removes the subscriptions of the session and closes its connection.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	for typeName, cancel := range s.cancellations {
		delete(s.cancellations, typeName)
		cancel()
	}
	return s.ws.Close()
}

// Send sends the specified message to the client
func (s *Session) Send(msg *Message) error {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.ws.SetWriteDeadline(time.Now().Add(maxWriteWait)); err != nil {
		return err
	}
	return s.ws.WriteJSON(msg)
}

// Listen returns the channel for reading messages from the client. It is
// closed once the client goes away.
func (s *Session) Listen() <-chan *Message {
	return s.messages
}

// filter selects the events the caller may see: those of its own project and
// public ones, or all of them for administrators.
func (s *Session) filter(typeName string) *notification.Filter {
	f := &notification.Filter{ProjectID: s.creds.ProjectID}
	if s.creds.IsAdmin() {
		f.ProjectID = ""
	}
	if typeName != allTypes {
		f.TypeNames = []string{typeName}
	}
	return f
}

func (s *Session) addSubscription(typeName string) {
	log.Infof("Add %s subscription %s for project %s", typeName, s.ID(), s.creds.ProjectID)
	if _, ok := s.cancellations[typeName]; !ok {
		events, cancel := s.listeners.Add(s.filter(typeName), eventBuffer)
		s.cancellations[typeName] = cancel
		go s.relay(events)
	}
	_ = s.Send(&Message{Op: subscribedOp, Type: typeName})
}

func (s *Session) removeSubscription(typeName string) {
	log.Infof("Remove %s subscription %s", typeName, s.ID())
	if cancel, ok := s.cancellations[typeName]; ok {
		delete(s.cancellations, typeName)
		cancel()
	}
	_ = s.Send(&Message{Op: unsubscribedOp, Type: typeName})
}

func (s *Session) relay(events <-chan *notification.Event) {
	for event := range events {
		msg := &Message{Op: string(event.Type), Type: event.Artifact.TypeName, Event: event}
		log.Debugf("Sending %s to %s", event.Type, s.ID())
		if err := s.Send(msg); err != nil {
			log.Warnf("Unable to send message: %v", err)
		}
	}
}
