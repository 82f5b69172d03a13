package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsCommand is the flat client-to-server message. Which fields matter depends
// on Event; unused fields stay zero.
type wsCommand struct {
	Event       string          `json:"event"`
	CameraID    string          `json:"camera_id"`
	Zone        string          `json:"zone"`
	Line        string          `json:"line"`
	TopLeft     *geometry.Point `json:"top_left,omitempty"`
	BottomRight *geometry.Point `json:"bottom_right,omitempty"`
	Start       *geometry.Point `json:"start,omitempty"`
	End         *geometry.Point `json:"end,omitempty"`
}

// websocketHandler runs the bidirectional command channel. Incoming commands
// are dispatched to the coordinator; hub notifications flow back on the same
// connection. Command failures are answered on this connection only, while
// successful mutations reach every subscriber through the hub.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, notifications := s.co.Hub().Subscribe("")
	defer s.co.Hub().Unsubscribe(id)

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	// Writer goroutine: owns all writes to the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-notifications:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(n); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	s.co.SendInitialData(id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.co.SendError(id, "malformed command")
			continue
		}
		if err := s.dispatchCommand(id, cmd); err != nil {
			s.co.SendError(id, err.Error())
		}
	}
	<-done
}

// dispatchCommand applies one websocket command through the coordinator.
// subscriberID identifies the connection for requester-only replies.
func (s *Server) dispatchCommand(subscriberID string, cmd wsCommand) error {
	switch cmd.Event {
	case "set_zone":
		if cmd.TopLeft == nil || cmd.BottomRight == nil {
			return counter.Validationf("set_zone requires top_left and bottom_right")
		}
		rect := geometry.Rect{TopLeft: *cmd.TopLeft, BottomRight: *cmd.BottomRight}
		return s.co.DefineZone(cmd.CameraID, cmd.Zone, rect)
	case "set_line":
		if cmd.Start == nil || cmd.End == nil {
			return counter.Validationf("set_line requires start and end")
		}
		seg := geometry.Segment{Start: *cmd.Start, End: *cmd.End}
		return s.co.DefineLine(cmd.CameraID, cmd.Line, seg)
	case "reset_zone_counts":
		return s.co.ResetZone(cmd.CameraID, cmd.Zone)
	case "reset_line_counts":
		return s.co.ResetLine(cmd.CameraID, cmd.Line)
	case "delete_zone":
		return s.co.DeleteZone(cmd.CameraID, cmd.Zone)
	case "delete_line":
		return s.co.DeleteLine(cmd.CameraID, cmd.Line)
	case "set_active_camera":
		return s.co.SetActiveCamera(cmd.CameraID)
	case "set_view_camera":
		s.co.Hub().SetCamera(subscriberID, cmd.CameraID)
		return nil
	case "get_current_data":
		return s.co.SendCurrentData(subscriberID, cmd.CameraID)
	default:
		return errors.New("unknown event: " + cmd.Event)
	}
}
