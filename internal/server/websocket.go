package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/sirupsen/logrus"
)

// wsSubscriber forwards session events to one WebSocket connection.
// Writes are serialised because gorilla connections allow a single writer.
// Events sent before start are held back and flushed after the snapshot.
type wsSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	live    bool
	pending []models.Event
}

func (w *wsSubscriber) ID() string { return w.id }

func (w *wsSubscriber) Send(_ context.Context, ev models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.live {
		w.pending = append(w.pending, ev)
		return nil
	}
	return w.writeJSON(ev)
}

// start writes snapshot followed by the held back events that do not
// predate it, then switches to direct delivery.
func (w *wsSubscriber) start(snapshot models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.pending
	w.pending = nil
	w.live = true
	if err := w.writeJSON(snapshot); err != nil {
		return err
	}
	floor := snapshot.Progress.Phase.Index()
	for _, ev := range pending {
		if ev.Progress.Phase.Index() < floor {
			continue
		}
		if err := w.writeJSON(ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *wsSubscriber) writeJSON(ev models.Event) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteJSON(ev)
}

func (w *wsSubscriber) sendText(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func snapshotEvent(snap models.Session) models.Event {
	ev := models.Event{
		ID:         uuid.NewString(),
		Type:       models.EventStatusUpdate,
		ResearchID: snap.ID,
		Step:       snap.CurrentStep,
		Message:    "Connected",
		Progress:   snap,
		OccurredAt: time.Now().UTC(),
	}
	if snap.Phase == models.PhaseAwaitingApproval {
		ev.Sources = snap.Sources
	}
	return ev
}

func (s *Server) serveWS(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.manager.Status(id); err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the failure response
		s.log.WithError(err).WithField("research_id", id).Warn("websocket upgrade failed")
		return nil
	}
	s.track(conn, true)
	defer s.track(conn, false)
	defer conn.Close()

	sub := &wsSubscriber{id: uuid.NewString(), conn: conn, writeTimeout: s.cfg.WSWriteTimeout}
	log := s.log.WithFields(logrus.Fields{"research_id": id, "subscriber": sub.id})

	// Subscribe before reading the snapshot so no transition falls between them.
	s.events.Subscribe(id, sub)
	defer s.events.Unsubscribe(id, sub)

	snap, err := s.manager.Status(id)
	if err != nil {
		log.WithError(err).Debug("session gone before snapshot")
		return nil
	}
	if err := sub.start(snapshotEvent(snap)); err != nil {
		log.WithError(err).Debug("initial snapshot not delivered")
		return nil
	}
	log.Debug("websocket subscribed")

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket closed")
			}
			return nil
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := sub.sendText("Received: " + string(data)); err != nil {
			log.WithError(err).Debug("echo failed")
			return nil
		}
	}
}

func (s *Server) track(conn *websocket.Conn, open bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if open {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}
