package main

import (
	"fmt"
	"net"
	"time"

	"github.com/ntqbit/allocation-catcher/dispatch"
	"github.com/ntqbit/allocation-catcher/framing"
)

// client is a thin request/response client over the framed protocol
// (C7+C8), mirroring original_source/frontend/src/client.rs's Client
// (packet id prefix + length-prefixed request/response).
type client struct {
	conn net.Conn
}

func dial(host string, port int) (*client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}
	return &client{conn: conn}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) request(id dispatch.PacketId, body []byte) ([]byte, error) {
	payload := make([]byte, 0, len(body)+1)
	payload = append(payload, byte(id))
	payload = append(payload, body...)

	if err := framing.WriteFrame(c.conn, payload); err != nil {
		return nil, err
	}

	resp, err := framing.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || dispatch.PacketId(resp[0]) != id {
		return nil, fmt.Errorf("unexpected response packet id")
	}
	return resp[1:], nil
}
