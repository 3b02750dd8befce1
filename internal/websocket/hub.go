// Package websocket 推送支付结算事件。客户端按支付哈希订阅，
// 结算确认后立即收到通知，无需轮询状态接口。
//
// 支付哈希本身即访问凭证: 知道哈希的一方就是发起支付的一方，
// 因此连接不做额外认证。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lnemail/backend/internal/monitoring"
)

// MessageType WebSocket 消息类型
type MessageType string

const (
	MessageTypePayment MessageType = "payment"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
)

// Message WebSocket 消息结构
type Message struct {
	Type        MessageType `json:"type"`
	PaymentHash string      `json:"payment_hash,omitempty"`
	Status      string      `json:"status,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Client 一个按支付哈希订阅的连接
type Client struct {
	id          string
	paymentHash string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	log         *zap.Logger
}

// Hub 管理所有订阅连接并分发结算事件
type Hub struct {
	clients        map[string]map[string]*Client // paymentHash -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	events         chan Message
	mu             sync.RWMutex
	allowedOrigins []string
	log            *zap.Logger
}

// NewHub 创建结算推送 Hub
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		events:         make(chan Message, 256),
		allowedOrigins: allowedOrigins,
		log:            log,
	}
}

// Run 运行事件循环直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("结算推送已停止")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.paymentHash] == nil {
				h.clients[client.paymentHash] = make(map[string]*Client)
			}
			h.clients[client.paymentHash][client.id] = client
			h.mu.Unlock()
			monitoring.WebSocketConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if subscribers, ok := h.clients[client.paymentHash]; ok {
				if _, ok := subscribers[client.id]; ok {
					delete(subscribers, client.id)
					close(client.send)
					monitoring.WebSocketConnections.Dec()
					if len(subscribers) == 0 {
						delete(h.clients, client.paymentHash)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.events:
			h.dispatch(event)

		case <-ticker.C:
			h.pingAll()
		}
	}
}

// NotifySettled 推送一笔支付的结算或投递事件
func (h *Hub) NotifySettled(paymentHash string, status string) {
	event := Message{
		Type:        MessageTypePayment,
		PaymentHash: paymentHash,
		Status:      status,
		Timestamp:   time.Now(),
	}

	select {
	case h.events <- event:
	default:
		h.log.Warn("结算事件队列已满，丢弃事件", zap.String("payment_hash", paymentHash))
	}
}

func (h *Hub) dispatch(event Message) {
	h.mu.RLock()
	subscribers := h.clients[event.PaymentHash]
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	for _, client := range subscribers {
		select {
		case client.send <- data:
		default:
			// 客户端写入阻塞，跳过本次事件
		}
	}
}

func (h *Hub) pingAll() {
	data, err := json.Marshal(Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, subscribers := range h.clients {
		for _, client := range subscribers {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subscribers := range h.clients {
		for _, client := range subscribers {
			close(client.send)
			monitoring.WebSocketConnections.Dec()
		}
	}
	h.clients = make(map[string]map[string]*Client)
}

func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleSubscription 返回按路径参数 hash 订阅结算事件的处理器
func HandleSubscription(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		hash := c.Param("hash")
		if hash == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment hash required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("WebSocket 升级失败",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			id:          uuid.NewString(),
			paymentHash: hash,
			conn:        conn,
			send:        make(chan []byte, 16),
			hub:         hub,
			log:         hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 消费客户端消息，仅用于保活与探测断连
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("WebSocket 连接异常关闭", zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePong {
			_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

// writePump 将事件写出给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.WriteMessage(websocket.TextMessage, data)

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
