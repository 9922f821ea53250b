package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-match-chat/internal/config"
)

// Acceptor upgrades authenticated HTTP requests into chat clients.
type Acceptor struct {
	upgrader websocket.Upgrader
	config   config.ChatConfig
}

func NewAcceptor(cfg config.ChatConfig) *Acceptor {
	return &Acceptor{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		config: cfg,
	}
}

// Accept completes the websocket handshake and starts the client's writer.
// On failure the upgrader has already replied to the request.
func (a *Acceptor) Accept(w http.ResponseWriter, r *http.Request, userID string) (*Client, error) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	client := NewClient(userID, conn, a.config)
	go client.WritePump()
	return client, nil
}
