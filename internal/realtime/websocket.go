package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the gateway already applies its own origin policy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts a websocket connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Upgrade turns an HTTP request into a registered websocket connection and
// starts a reader that unregisters on client disconnect.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID string) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := h.Register(userID, &wsTransport{conn: ws})

	// inbound messages are ignored; the read loop exists to detect closes
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.Unregister(c)
				return
			}
		}
	}()
	return c, nil
}
