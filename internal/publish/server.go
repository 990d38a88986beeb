package publish

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBuffer     = 512
)

// Server exposes a Hub over websocket, plus plain HTTP for snapshots and requests.
//
//	GET  /ws                  websocket stream, snapshots first
//	GET  /api/snapshot/{topic}
//	POST /api/{topic}         same as a websocket request
type Server struct {
	hub      *Hub
	router   *mux.Router
	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewServer(addr string, hub *Hub) *Server {
	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot/{topic}", s.serveSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/{topic}", s.serveRequest).Methods(http.MethodPost)
	s.router = r

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrap(err, "listen").With("addr", s.srv.Addr)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logs.Errorf("publish server stopped, err: %+v", err)
		}
	}()
	logs.Infof("publish server listening on %s", ln.Addr().String())
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	topic := Topic(mux.Vars(r)["topic"])
	v, ok := s.hub.Snapshot(topic)
	if !ok {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, Frame{Topic: topic, Kind: FrameSnapshot, Data: v})
}

func (s *Server) serveRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var data any
	if err := sonic.Unmarshal(body, &data); err != nil {
		http.Error(w, "malformed json", http.StatusBadRequest)
		return
	}
	req := Request{Topic: Topic(mux.Vars(r)["topic"]), Data: data}
	if err := s.hub.Receive(req); err != nil {
		logs.Errorf("request %s rejected, err: %+v", req.Topic, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("websocket upgrade, err: %+v", err)
		return
	}

	id, frames := s.hub.Subscribe(sendBuffer)
	c := &client{conn: conn, hub: s.hub, id: id, frames: frames}
	go c.writePump(s.hub.Snapshots())
	c.readPump()
}

type client struct {
	conn   *websocket.Conn
	hub    *Hub
	id     uint64
	frames <-chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logs.Errorf("websocket read, err: %+v", err)
			}
			return
		}
		var req Request
		if err := sonic.Unmarshal(msg, &req); err != nil {
			logs.Infof("websocket: malformed request dropped")
			continue
		}
		if err := c.hub.Receive(req); err != nil {
			logs.Errorf("request %s rejected, err: %+v", req.Topic, err)
		}
	}
}

func (c *client) writePump(snapshots [][]byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, frame := range snapshots {
		if !c.write(websocket.TextMessage, frame) {
			return
		}
	}

	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data) == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
