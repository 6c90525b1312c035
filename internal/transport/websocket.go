package transport

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"alia/internal/body"
	"alia/internal/logging"
)

const writeWait = 5 * time.Second

// handleBody upgrades to a websocket and pumps frames until either side
// goes away. Only one body may be connected at a time.
func (s *Server) handleBody(c *gin.Context) {
	if !s.claim() {
		c.JSON(http.StatusConflict, gin.H{"error": "a body is already connected"})
		return
	}
	defer s.release()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Get(logging.CategoryTransport).Error("upgrade: %v", err)
		return
	}
	defer ws.Close()

	conn := uuid.New().String()
	logging.Transport("body connected: %s", conn)
	if err := sendJSON(ws, OutFrame{Type: TypeHello, Session: conn, Code: s.r.Code()}); err != nil {
		return
	}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error { return s.readLoop(ws) })
	g.Go(func() error {
		err := s.writeLoop(ctx, ws)
		// Unblock the reader.
		ws.Close()
		return err
	})
	err = g.Wait()
	logging.Transport("body disconnected: %s (%v)", conn, err)
}

func (s *Server) readLoop(ws *websocket.Conn) error {
	for {
		if s.readTimeout > 0 {
			ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		var f InFrame
		if err := ws.ReadJSON(&f); err != nil {
			var se *websocket.CloseError
			if errors.As(err, &se) && se.Code == websocket.CloseNormalClosure {
				return errClosed
			}
			return err
		}
		if err := binding.Validator.ValidateStruct(&f); err != nil {
			logging.TransportDebug("rejected frame: %v", err)
			s.reject(ws, err)
			continue
		}
		s.apply(f)
	}
}

var errClosed = errors.New("closed by body")

func (s *Server) apply(f InFrame) {
	if f.Hardware != nil {
		s.r.SetHardware(*f.Hardware)
	}
	if f.Sensors != nil {
		s.r.Sense(*f.Sensors)
	}
	if f.Input != "" {
		s.r.Say(f.Input)
	}
}

func (s *Server) reject(ws *websocket.Conn, err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	sendJSON(ws, OutFrame{Type: TypeError, Code: s.r.Code(), Error: err.Error()})
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	t := time.NewTicker(s.push)
	defer t.Stop()
	var last map[string]body.Bid
	for {
		select {
		case <-ctx.Done():
			s.wmu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			s.wmu.Unlock()
			return nil
		case line := <-s.r.Said():
			st := s.r.Stats()
			if err := s.send(ws, OutFrame{Type: TypeSaid, Output: line, Code: s.r.Code(), Cycle: st.Cycles}); err != nil {
				return err
			}
		case <-t.C:
			cmds := s.r.Commands()
			if maps.Equal(cmds, last) {
				continue
			}
			last = cmds
			st := s.r.Stats()
			if err := s.send(ws, OutFrame{Type: TypeCommands, Commands: cmds, Code: s.r.Code(), Cycle: st.Cycles}); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(ws *websocket.Conn, v OutFrame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return sendJSON(ws, v)
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}
