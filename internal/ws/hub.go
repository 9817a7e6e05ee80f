package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans committed ledger entries out to live subscribers, keyed by
// the account owner's user ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples a payload with the account owner it concerns.
type message struct {
	ownerID string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	ownerID string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.ownerID]; !ok {
				h.clients[sub.ownerID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.ownerID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.ownerID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.ownerID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.ownerID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.ownerID)
				}
			}
		}
	}
}

// Register adds a client to an account stream.
func (h *Hub) Register(ownerID string, client Subscriber) {
	h.register <- subscription{ownerID: ownerID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(ownerID string, client Subscriber) {
	h.unreg <- subscription{ownerID: ownerID, client: client}
}

// Broadcast sends payload to all clients watching the account.
func (h *Hub) Broadcast(ownerID string, payload []byte) {
	h.broadcast <- message{ownerID: ownerID, payload: payload}
}
