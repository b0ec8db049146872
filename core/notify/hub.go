package notify

import (
	"encoding/json"
	"sync"
	"time"

	"MixStudio/logger"
	"MixStudio/model"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeJob  MessageType = "job"  // 任务状态变化
	MsgTypePing MessageType = "ping" // 心跳
	MsgTypePong MessageType = "pong" // 心跳响应
)

const (
	sendBuffer   = 32
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client 一个用户的一条 WebSocket 连接，同一用户可以有多条
type Client struct {
	hub    *JobHub
	conn   *websocket.Conn
	send   chan []byte
	UserID int64
}

type outbound struct {
	userID  int64
	message []byte
}

// JobHub 按用户分发任务事件
type JobHub struct {
	users map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewJobHub creates a hub. Run must be started before clients are served.
func NewJobHub() *JobHub {
	return &JobHub{
		users:      make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *JobHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.sendToUser(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub，关闭所有连接的发送队列
func (h *JobHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues ev for every connection of userID. It never blocks the caller;
// events are dropped when the hub is saturated or stopped.
func (h *JobHub) Publish(userID int64, ev model.JobEvent) {
	data, err := encode(MsgTypeJob, ev)
	if err != nil {
		logger.Warn("[Hub] Failed to encode job event", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &outbound{userID: userID, message: data}:
	case <-h.done:
	default:
		logger.Warn("[Hub] Broadcast queue full, job event dropped",
			logger.String("jobID", ev.JobID),
			logger.Int64("user", userID))
	}
}

// ClientCount returns the number of open connections for userID.
func (h *JobHub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Serve registers conn for userID and blocks until the connection closes.
func (h *JobHub) Serve(conn *websocket.Conn, userID int64) {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), UserID: userID}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}

func (h *JobHub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[client.UserID] == nil {
		h.users[client.UserID] = make(map[*Client]bool)
	}
	h.users[client.UserID][client] = true

	logger.Info("[Hub] Client registered",
		logger.Int64("user", client.UserID),
		logger.Int("connections", len(h.users[client.UserID])))
}

// removeClient 需要持有写锁
func (h *JobHub) removeClient(client *Client) {
	clients, ok := h.users[client.UserID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.users, client.UserID)
	}
	logger.Info("[Hub] Client unregistered", logger.Int64("user", client.UserID))
}

func (h *JobHub) sendToUser(msg *outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.users[msg.userID] {
		select {
		case client.send <- msg.message:
		default:
			// 发送缓冲区满，断开慢客户端
			h.removeClient(client)
		}
	}
}

func (h *JobHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.users {
		for client := range clients {
			close(client.send)
		}
	}
	h.users = make(map[int64]map[*Client]bool)
}

func (h *JobHub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// readPump 只处理心跳，其余入站消息忽略
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[Hub] websocket read error", logger.ErrorField(err), logger.Int64("user", c.UserID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != MsgTypePing {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if data, err := encode(MsgTypePong, nil); err == nil {
			c.trySend(data)
		}
	}
}

// trySend 在 hub 之外写入发送队列，队列可能已被关闭
func (c *Client) trySend(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.users[c.UserID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(t MessageType, payload interface{}) ([]byte, error) {
	msg := WSMessage{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}
