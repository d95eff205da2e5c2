package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/semflow/events"
)

// requestTimeout bounds a single CLI round trip to the server.
const requestTimeout = 10 * time.Second

// Client is a thin NATS request/reply client for the command surface.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to the server at the given URL.
func NewClient(url string) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("semflow-cli"))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() {
	c.conn.Close()
}

// Call sends one command and decodes the reply frame. A reply carrying
// a server-side error is surfaced as a Go error.
func (c *Client) Call(verb string, req any) (json.RawMessage, error) {
	var payload []byte
	if req != nil {
		var err error
		payload, err = json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	msg, err := c.conn.Request(events.CommandSubject(verb), payload, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", verb, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("%s", reply.Error)
	}
	return reply.Data, nil
}

// Watch subscribes to the broadcast event stream and invokes handler
// for each envelope until stop is closed.
func (c *Client) Watch(stop <-chan struct{}, handler func(events.Envelope)) error {
	sub, err := c.conn.Subscribe(events.EventSubjectPrefix+">", func(msg *nats.Msg) {
		var env events.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		handler(env)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	<-stop
	return nil
}
