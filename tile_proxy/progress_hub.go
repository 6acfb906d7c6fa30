package tile_proxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

// ProgressMessage WebSocket进度消息
type ProgressMessage struct {
	Type     string  `json:"type"` // progress, completed, cancelled
	UUID     string  `json:"uuid"`
	Progress float64 `json:"progress"`
	Data     Job     `json:"data"`
}

func newProgressMessage(job Job) ProgressMessage {
	typ := "progress"
	switch job.State {
	case StateCompleted:
		typ = "completed"
	case StateCancelled:
		typ = "cancelled"
	}
	return ProgressMessage{Type: typ, UUID: job.ID, Progress: job.Progress(), Data: job}
}

// wsClient 每个连接独占一个写协程，推送经缓冲通道投递
type wsClient struct {
	conn *websocket.Conn
	send chan ProgressMessage
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan ProgressMessage, buffer),
		done: make(chan struct{}),
	}
}

// enqueue 非阻塞投递，缓冲已满或连接已关闭时丢弃并返回 false
func (c *wsClient) enqueue(msg ProgressMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ProgressHub 按任务推送进度
type ProgressHub struct {
	clients  sync.Map // uuid -> *sync.Map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   hclog.Logger
}

// NewProgressHub 创建进度推送中心
func NewProgressHub(logger hclog.Logger) *ProgressHub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ProgressHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Publish 向订阅该任务的连接投递快照，不等待写出
func (h *ProgressHub) Publish(job Job) {
	v, ok := h.clients.Load(job.ID)
	if !ok {
		return
	}
	msg := newProgressMessage(job)
	v.(*sync.Map).Range(func(key, _ any) bool {
		if !key.(*wsClient).enqueue(msg) {
			h.logger.Debug("progress message dropped", "uuid", job.ID, "current", job.Current)
		}
		return true
	})
}

// Serve 升级连接并订阅任务，先发送当前快照
func (h *ProgressHub) Serve(w http.ResponseWriter, r *http.Request, current Job) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newWSClient(conn, wsSendBuffer)
	client.enqueue(newProgressMessage(current))
	h.subscribe(current.ID, client)

	go h.writeLoop(current.ID, client)
	go h.readLoop(current.ID, client)
	return nil
}

func (h *ProgressHub) subscribe(id string, client *wsClient) {
	v, _ := h.clients.LoadOrStore(id, &sync.Map{})
	v.(*sync.Map).Store(client, struct{}{})
}

// Subscribers 任务当前连接数
func (h *ProgressHub) Subscribers(id string) int {
	v, ok := h.clients.Load(id)
	if !ok {
		return 0
	}
	n := 0
	v.(*sync.Map).Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// writeLoop 依次写出缓冲中的消息，写失败即断开
func (h *ProgressHub) writeLoop(id string, client *wsClient) {
	defer h.unregister(id, client)
	for {
		select {
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// readLoop 读取直到客户端断开
func (h *ProgressHub) readLoop(id string, client *wsClient) {
	defer h.unregister(id, client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHub) unregister(id string, client *wsClient) {
	if v, ok := h.clients.Load(id); ok {
		v.(*sync.Map).Delete(client)
	}
	client.close()
	h.logger.Debug("progress subscriber left", "uuid", id)
}
