// Websocket subscribers
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package live

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ssnmr-sequencer/pkg/pool"
)

const (
	maxRequestSize = 64 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	// queueLen bounds the frames waiting for a slow subscriber.
	queueLen = 64
)

// JSON-RPC error codes.
const (
	codeParseError  = -32700
	codeServerError = -32000
)

// subscriber is one websocket connection. Frames are encoded before they
// are queued; a full queue drops the frame since the next snapshot
// supersedes it anyway.
type subscriber struct {
	id      int64
	conn    *websocket.Conn
	server  *Server
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func (s *Server) newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		frames: make(chan []byte, queueLen),
		done:   make(chan struct{}),
	}
}

// send queues an encoded frame.
func (c *subscriber) send(frame []byte) {
	select {
	case <-c.done:
	case c.frames <- frame:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.server.log.Warn("subscriber %d is slow, %d frames dropped", c.id, n)
		}
	}
}

// reply encodes and queues a response.
func (c *subscriber) reply(resp jsonRPCResponse) {
	frame, err := pool.EncodeJSON(resp, "")
	if err != nil {
		c.server.log.WithError(err).Error("encoding response failed")
		return
	}
	c.send(frame)
}

// close ends both pumps. It is safe to call more than once.
func (c *subscriber) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump handles requests until the connection fails or closes.
func (c *subscriber) readPump() {
	defer func() {
		c.server.removeSubscriber(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxRequestSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.WithError(err).Warn("subscriber %d read failed", c.id)
			}
			return
		}
		c.handle(data)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *subscriber) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.close()
	}()

	for {
		var (
			kind  = websocket.TextMessage
			frame []byte
		)
		select {
		case <-c.done:
			return
		case frame = <-c.frames:
		case <-ping.C:
			kind = websocket.PingMessage
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, frame); err != nil {
			c.server.log.WithError(err).Debug("subscriber %d write failed", c.id)
			return
		}
	}
}

func (c *subscriber) handle(data []byte) {
	var req jsonRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(errorResponse(nil, codeParseError, "Parse error"))
		return
	}
	result, err := c.server.dispatchMethod(req.Method, req.Params)
	if err != nil {
		c.reply(errorResponse(req.ID, codeServerError, err.Error()))
		return
	}
	c.reply(jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func errorResponse(id any, code int, message string) jsonRPCResponse {
	return jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: code, Message: message}, ID: id}
}
