package notify

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"herdwatch/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // 单次写超时
	pongWait       = 60 * time.Second    // 等待 pong 的超时
	pingPeriod     = (pongWait * 9) / 10 // ping 周期，必须小于 pongWait
	maxMessageSize = 512                 // 客户端消息上限
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command 客户端控制消息 {"action":"join"|"leave","topic":"farm:1"}
type Command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// CommandReply 控制消息应答
type CommandReply struct {
	Type   string   `json:"type"` // ack | error
	Action string   `json:"action,omitempty"`
	Topic  string   `json:"topic,omitempty"`
	Error  string   `json:"error,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// Client websocket 连接与 Hub 订阅之间的桥
type Client struct {
	conn    *websocket.Conn
	sub     *Subscription
	replies chan CommandReply
	logger  *zap.Logger
}

// ServeWS 升级连接并启动读写协程；?topics=farm:1,animal:7 为初始订阅
func ServeWS(hub *Hub, m *metrics.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var topics []string
		if q := r.URL.Query().Get("topics"); q != "" {
			for _, t := range strings.Split(q, ",") {
				if t = strings.TrimSpace(t); t != "" {
					topics = append(topics, t)
				}
			}
		}

		sub, err := hub.Subscribe(topics...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Close()
			logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}

		c := &Client{
			conn:    conn,
			sub:     sub,
			replies: make(chan CommandReply, 8),
			logger:  logger.With(zap.String("remote_addr", conn.RemoteAddr().String())),
		}
		m.WSClientConnected()
		c.logger.Info("WebSocket client connected", zap.Strings("topics", topics))

		go c.WritePump()
		go func() {
			c.ReadPump()
			m.WSClientDisconnected()
		}()
	}
}

// ReadPump 读取控制消息；连接断开时关闭订阅
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		c.logger.Info("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.reply(c.handleCommand(message))
	}
}

func (c *Client) handleCommand(message []byte) CommandReply {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return CommandReply{Type: "error", Error: "invalid command"}
	}

	switch cmd.Action {
	case "join":
		if err := c.sub.Join(cmd.Topic); err != nil {
			return CommandReply{Type: "error", Action: cmd.Action, Topic: cmd.Topic, Error: err.Error()}
		}
	case "leave":
		c.sub.Leave(cmd.Topic)
	default:
		return CommandReply{Type: "error", Action: cmd.Action, Error: "unknown action"}
	}
	return CommandReply{Type: "ack", Action: cmd.Action, Topic: cmd.Topic, Topics: c.sub.Topics()}
}

func (c *Client) reply(r CommandReply) {
	select {
	case c.replies <- r:
	default:
	}
}

// WritePump 把事件与应答写到连接，定时 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 订阅已关闭
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}
		case r := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(r); err != nil {
				c.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("WebSocket ping error", zap.Error(err))
				return
			}
		}
	}
}
