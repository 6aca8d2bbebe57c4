package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// AllEvents é o id de assinatura que recebe mudanças de qualquer evento
const AllEvents = "*"

// writeWait limita quanto um cliente lento pode segurar o Broadcast
const writeWait = 5 * time.Second

// ClientMsg é a mensagem do cliente: subscribe | unsubscribe | ping
type ClientMsg struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"` // "*" = todos os eventos
}

// Hub mantém as conexões WebSocket e as assinaturas por evento
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
}

// client serializa escritas: gorilla/websocket aceita um único escritor por conexão
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      logger.OrNop(log),
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	defer conn.Close()
	defer h.drop(c)

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.EventID == "" {
				msg.EventID = AllEvents
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.EventID]; !ok {
				h.subs[msg.EventID] = make(map[*client]struct{})
			}
			h.subs[msg.EventID][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			if msg.EventID == "" {
				msg.EventID = AllEvents
			}
			h.mu.Lock()
			if set, ok := h.subs[msg.EventID]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subs, msg.EventID)
				}
			}
			h.mu.Unlock()
		case "ping":
			b, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = c.write(b)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

// Broadcast envia a mudança aos inscritos no evento e aos inscritos em "*"
func (h *Hub) Broadcast(upd events.EventStatusChanged) {
	h.mu.RLock()
	targets := make(map[*client]struct{})
	for _, id := range []string{upd.EventID, AllEvents} {
		for c := range h.subs[id] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(upd)
	if err != nil {
		return
	}
	for c := range targets {
		if err := c.write(b); err != nil {
			// conexão morta ou lenta demais: sai das assinaturas e o loop de leitura encerra
			h.log.Debug("ws write failed, dropping client", zap.String("event_id", upd.EventID), zap.Error(err))
			h.drop(c)
			_ = c.conn.Close()
		}
	}
}

// Subscribers conta conexões inscritas num id (usado em testes e métricas)
func (h *Hub) Subscribers(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[eventID])
}
