package confirm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kappa-stage/pkg/errors"
	"kappa-stage/pkg/log"
	"kappa-stage/pkg/safety"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// Prompt is sent to every connected operator client.
type Prompt struct {
	Type     string      `json:"type"` // "confirm", "resolved" or "cancel"
	ID       string      `json:"id"`
	Title    string      `json:"title,omitempty"`
	Rows     []PromptRow `json:"rows,omitempty"`
	Exceeded []string    `json:"exceeded,omitempty"`
	Table    string      `json:"table,omitempty"`
	Approve  *bool       `json:"approve,omitempty"`
}

// PromptRow is one comparison row. Limit is omitted for virtual axes.
type PromptRow struct {
	Axis     string   `json:"axis"`
	Current  float64  `json:"current"`
	Target   float64  `json:"target"`
	Delta    float64  `json:"delta"`
	Limit    *float64 `json:"limit,omitempty"`
	Exceeded bool     `json:"exceeded"`
}

// Reply is what a client sends back.
type Reply struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
}

// Remote is a websocket hub for operator screens. Ask broadcasts the prompt
// and takes the first reply. With no client connected it declines.
type Remote struct {
	Title string

	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[int64]*remoteClient
	pending map[string]chan bool
	nextID  int64
	closed  bool
	wg      sync.WaitGroup
}

// NewRemote creates an empty hub. Mount it with http.Handle.
func NewRemote(title string) *Remote {
	return &Remote{
		Title: title,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  log.GetLogger("confirm.remote"),
		clients: make(map[int64]*remoteClient),
		pending: make(map[string]chan bool),
	}
}

// Clients returns the number of connected clients.
func (r *Remote) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Ask broadcasts c and waits for the first reply.
func (r *Remote) Ask(ctx context.Context, c safety.Comparison) (bool, error) {
	id := uuid.NewString()
	ch := make(chan bool, 1)

	r.mu.Lock()
	if len(r.clients) == 0 {
		r.mu.Unlock()
		return false, errors.MoveAbortedError("no operator connected")
	}
	r.pending[id] = ch
	clients := r.snapshotLocked()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	prompt := newPrompt(id, r.Title, c)
	for _, cl := range clients {
		cl.Send(prompt)
	}
	r.logger.WithFields(log.Fields{"id": id, "clients": len(clients)}).Info("confirmation prompt sent")

	select {
	case ok := <-ch:
		r.broadcast(Prompt{Type: "resolved", ID: id, Approve: &ok})
		return ok, nil
	case <-ctx.Done():
		r.broadcast(Prompt{Type: "cancel", ID: id})
		return false, ctx.Err()
	}
}

// ServeHTTP upgrades the connection and runs the client until it closes.
func (r *Remote) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return
	}
	client := &remoteClient{
		id:     atomic.AddInt64(&r.nextID, 1),
		conn:   conn,
		hub:    r,
		sendCh: make(chan any, 16),
		done:   make(chan struct{}),
	}
	r.clients[client.id] = client
	r.wg.Add(2)
	r.mu.Unlock()

	r.logger.WithField("client", client.id).Info("operator connected")

	go client.writePump()
	client.readPump()
}

// Close disconnects every client and waits for their pumps to exit.
func (r *Remote) Close() {
	r.mu.Lock()
	r.closed = true
	clients := r.snapshotLocked()
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	r.wg.Wait()
}

func (r *Remote) snapshotLocked() []*remoteClient {
	out := make([]*remoteClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Remote) broadcast(msg Prompt) {
	r.mu.Lock()
	clients := r.snapshotLocked()
	r.mu.Unlock()
	for _, c := range clients {
		c.Send(msg)
	}
}

func (r *Remote) resolve(reply Reply) {
	r.mu.Lock()
	ch, ok := r.pending[reply.ID]
	if ok {
		delete(r.pending, reply.ID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	ch <- reply.Approve
}

// removeClient drops c. When the last client leaves, pending prompts decline.
func (r *Remote) removeClient(c *remoteClient) {
	r.mu.Lock()
	delete(r.clients, c.id)
	var orphaned []chan bool
	if len(r.clients) == 0 {
		for id, ch := range r.pending {
			orphaned = append(orphaned, ch)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, ch := range orphaned {
		ch <- false
	}
	r.logger.WithField("client", c.id).Info("operator disconnected")
}

func newPrompt(id, title string, c safety.Comparison) Prompt {
	p := Prompt{
		Type:     "confirm",
		ID:       id,
		Title:    title,
		Exceeded: c.Exceeded,
		Table:    c.String(),
	}
	for _, row := range c.Rows() {
		pr := PromptRow{
			Axis:     row.Axis,
			Current:  row.Current,
			Target:   row.Target,
			Delta:    row.Delta,
			Exceeded: row.Exceeded,
		}
		if !math.IsNaN(row.Limit) {
			limit := row.Limit
			pr.Limit = &limit
		}
		p.Rows = append(p.Rows, pr)
	}
	return p
}

type remoteClient struct {
	id     int64
	conn   *websocket.Conn
	hub    *Remote
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

// Send queues msg, dropping it if the client is slow.
func (c *remoteClient) Send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.hub.logger.WithField("client", c.id).Warn("dropping message, send queue full")
	}
}

func (c *remoteClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *remoteClient) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Debug("websocket read ended")
			}
			return
		}
		var reply Reply
		if err := json.Unmarshal(data, &reply); err != nil || reply.ID == "" {
			c.hub.logger.WithField("client", c.id).Warn("ignoring malformed reply")
			continue
		}
		c.hub.resolve(reply)
	}
}

func (c *remoteClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
