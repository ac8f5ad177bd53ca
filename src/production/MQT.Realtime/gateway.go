package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	fanout "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Fanout"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

const maxFrameSize = 4096

// inboundFrame is a control message sent by a viewer
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Gateway upgrades viewer connections and attaches them to the fan-out router
type Gateway struct {
	router   *fanout.Router
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger
	metrics  *metrics.Metrics

	clients sync.Map
}

func NewGateway(router *fanout.Router, cfg config.RealtimeConfig, allowedOrigins []string, log *logger.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		router: router,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:  log.WithComponent("realtime"),
		metrics: m,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWS GET /ws
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	cl := newClient(conn, g.cfg.SendBuffer)
	g.clients.Store(cl.id, cl)
	g.router.Register(cl)
	g.metrics.ConnectedClients.Inc()
	g.logger.Logger.Debug().Str("client", cl.id).Msg("Viewer connected")

	go cl.writePump(g.cfg.WriteTimeout, g.cfg.PingInterval)

	defer func() {
		g.router.LeaveAll(cl)
		g.clients.Delete(cl.id)
		cl.close()
		g.metrics.ConnectedClients.Dec()
		g.logger.Logger.Debug().Str("client", cl.id).Msg("Viewer disconnected")
	}()

	g.readPump(cl)
}

// Close disconnects every viewer
func (g *Gateway) Close() {
	g.clients.Range(func(_, v interface{}) bool {
		v.(*client).close()
		return true
	})
}

func (g *Gateway) readPump(cl *client) {
	cl.conn.SetReadLimit(maxFrameSize)
	if g.cfg.PingInterval > 0 {
		wait := 2 * g.cfg.PingInterval
		_ = cl.conn.SetReadDeadline(time.Now().Add(wait))
		cl.conn.SetPongHandler(func(string) error {
			return cl.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		mt, message, err := cl.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Logger.Debug().Err(err).Str("client", cl.id).Msg("Read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			g.logger.Logger.Debug().Err(err).Str("client", cl.id).Msg("Ignoring invalid frame")
			continue
		}

		switch frame.Event {
		case mqtmodels.EventJoinRoom:
			var uid string
			if err := json.Unmarshal(frame.Data, &uid); err != nil || uid == "" {
				g.logger.Logger.Debug().Str("client", cl.id).Msg("Ignoring join-room without uid")
				continue
			}
			if err := g.router.JoinGroup(cl, uid); err != nil {
				g.logger.Logger.Warn().Err(err).Str("client", cl.id).Str("uid", uid).Msg("Join rejected")
				continue
			}
			g.logger.Logger.Debug().Str("client", cl.id).Str("uid", uid).Msg("Joined room")
		default:
			g.logger.Logger.Debug().Str("client", cl.id).Str("event", frame.Event).Msg("Ignoring unknown event")
		}
	}
}

// client is one viewer connection. It implements fanout.Member.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string {
	return c.id
}

// Deliver queues the event without blocking
func (c *client) Deliver(event mqtmodels.Event) error {
	select {
	case <-c.done:
		return fanout.ErrMemberClosed
	default:
	}

	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return fanout.ErrMemberClosed
	default:
		return fanout.ErrSlowMember
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump(writeTimeout, pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.setWriteDeadline(writeTimeout)
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-tick:
			c.setWriteDeadline(writeTimeout)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ fanout.Member = (*client)(nil)

func (c *client) setWriteDeadline(timeout time.Duration) {
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
}
