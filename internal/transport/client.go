package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
)

const handshakeTimeout = 10 * time.Second

// Client is a connection to the helper. One Client runs one request.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the helper listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	d := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var nd net.Dialer
			return nd.DialContext(ctx, "unix", socketPath)
		},
		HandshakeTimeout: handshakeTimeout,
	}
	ws, _, err := d.DialContext(ctx, "ws://monolingual-helper"+Path, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to helper at %s: %w", socketPath, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &Client{ws: ws}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.ws.Close()
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Run submits req and calls onEvent for every reported item until the helper
// finishes. Canceling ctx asks the helper to stop; Run still waits for the
// final summary, which then has Canceled set. Losing the connection before
// the summary arrives yields ErrHelperDisconnected.
func (c *Client) Run(ctx context.Context, req *request.HelperRequest, onEvent func(progress.Event)) (progress.Summary, error) {
	frame, err := requestMessage(req)
	if err != nil {
		return progress.Summary{}, err
	}
	if err := c.write(frame); err != nil {
		return progress.Summary{}, fmt.Errorf("%w: %v", ErrHelperDisconnected, err)
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			if cancel, err := marshalEnvelope(TypeCancel, nil); err == nil {
				_ = c.write(cancel)
			}
		case <-finished:
		}
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return progress.Summary{}, fmt.Errorf("%w: %v", ErrHelperDisconnected, err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		env, err := unmarshalEnvelope(data)
		if err != nil {
			return progress.Summary{}, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case TypeStarted:
		case TypeEvent:
			ev, err := eventFromStruct(env.Body)
			if err != nil {
				return progress.Summary{}, err
			}
			if onEvent != nil {
				onEvent(ev)
			}
		case TypeDone:
			return summaryFromStruct(env.Body), nil
		case TypeError:
			return progress.Summary{}, errorFromStruct(env.Body)
		default:
			return progress.Summary{}, fmt.Errorf("%w: unexpected message %q", ErrProtocol, env.Type)
		}
	}
}
