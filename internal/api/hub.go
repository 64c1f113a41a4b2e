package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ErrUserOffline 用户没有连接
var ErrUserOffline = errors.New("user is not connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// InboundHandler 处理客户端发来的消息
type InboundHandler func(ctx context.Context, userID string, msg models.Message)

// Client 一个用户的WebSocket连接
type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
}

// ConnectionManager 管理在线连接，同时作为服务层的消息通道
type ConnectionManager struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	handlers map[string]InboundHandler
	logger   *zap.Logger
}

func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients:  make(map[string]*Client),
		handlers: make(map[string]InboundHandler),
		logger:   logger.Named("ConnectionManager"),
	}
}

// Handle 注册某种入站消息的处理函数
func (m *ConnectionManager) Handle(msgType string, h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = h
}

// ServeWS 升级连接，user_id 从查询参数读取
func (m *ConnectionManager) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("升级WebSocket失败", zap.Error(err), zap.String("userID", userID))
		return
	}

	client := &Client{UserID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	m.register(client)
	m.logger.Info("🔌 WebSocket已连接", zap.String("userID", userID))

	go client.writePump(m.logger.With(zap.String("userID", userID)))
	go m.readPump(client)
}

func (m *ConnectionManager) register(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 同一用户的旧连接被替换
	if old, ok := m.clients[client.UserID]; ok {
		close(old.send)
		_ = old.conn.Close()
	}
	m.clients[client.UserID] = client
}

func (m *ConnectionManager) unregister(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.clients[client.UserID]; ok && current == client {
		delete(m.clients, client.UserID)
		close(client.send)
	}
}

// Online 用户是否在线
func (m *ConnectionManager) Online(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

// Send 实现 services.MessageChannel；recipients 为空时广播，离线用户直接跳过
func (m *ConnectionManager) Send(_ context.Context, msgType string, payload any, recipients ...string) error {
	data, err := encode(msgType, "", payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(recipients) == 0 {
		for _, c := range m.clients {
			m.enqueue(c, data)
		}
		return nil
	}
	for _, id := range recipients {
		if c, ok := m.clients[id]; ok {
			m.enqueue(c, data)
		}
	}
	return nil
}

// SendToUser 发送给单个用户，离线时返回 ErrUserOffline
func (m *ConnectionManager) SendToUser(userID, msgType, requestID string, payload any) error {
	data, err := encode(msgType, requestID, payload)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[userID]
	if !ok {
		return ErrUserOffline
	}
	if !m.enqueue(c, data) {
		return fmt.Errorf("发送队列已满: %s", userID)
	}
	return nil
}

// enqueue 调用方持有读锁
func (m *ConnectionManager) enqueue(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		m.logger.Warn("发送队列已满，丢弃消息", zap.String("userID", c.UserID))
		return false
	}
}

func encode(msgType, requestID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}
	data, err := json.Marshal(models.Message{Type: msgType, RequestID: requestID, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}
	return data, nil
}

func (m *ConnectionManager) readPump(c *Client) {
	logger := m.logger.With(zap.String("userID", c.UserID))
	defer func() {
		m.unregister(c)
		_ = c.conn.Close()
		logger.Debug("readPump结束")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket读取错误", zap.Error(err))
			}
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("无法解析的客户端消息", zap.Error(err))
			continue
		}
		msg.From = c.UserID

		m.mu.RLock()
		h, ok := m.handlers[msg.Type]
		m.mu.RUnlock()
		if !ok {
			logger.Debug("忽略未知类型的消息", zap.String("type", msg.Type))
			continue
		}
		// 处理函数可能会阻塞等待后续消息，不能占用读循环
		go h(context.Background(), c.UserID, msg)
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("写入消息失败", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
