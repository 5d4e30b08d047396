// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsoncodec

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/jsonrpc/rpc/params"
)

var logger = loggo.GetLogger("jsonrpc.rpc.jsoncodec")

// JSONConn sends and receives messages to an underlying connection in
// JSON format.
type JSONConn interface {
	// Send sends a message.
	Send(msg any) error
	// Receive receives a message into msg.
	Receive(msg any) error
	Close() error
}

// Codec implements the message channel used by rpc.Conn on top of a
// JSONConn.
type Codec struct {
	conn        JSONConn
	logMessages int32

	mu      sync.Mutex
	closing bool
}

// New returns a codec that uses the given connection to send and
// receive messages.
func New(conn JSONConn) *Codec {
	return &Codec{
		conn: conn,
	}
}

// SetLogging sets whether messages will be logged by the codec.
func (c *Codec) SetLogging(on bool) {
	val := int32(0)
	if on {
		val = 1
	}
	atomic.StoreInt32(&c.logMessages, val)
}

func (c *Codec) isLogging() bool {
	return atomic.LoadInt32(&c.logMessages) != 0
}

func (c *Codec) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// ReadMessage reads the next message. It returns io.EOF once the codec
// has been closed or the peer has gone away.
func (c *Codec) ReadMessage(msg *params.Message) error {
	*msg = params.Message{}
	if err := c.conn.Receive(msg); err != nil {
		// If we've closed the connection, we may get a spurious error,
		// so ignore it.
		if c.isClosing() || err == io.EOF || errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return io.EOF
		}
		return errors.Annotate(err, "error receiving message")
	}
	if c.isLogging() {
		logger.Debugf("<- %s", DumpMessage(msg))
	}
	return nil
}

// WriteMessage writes a message. It is not safe to call concurrently;
// rpc.Conn serialises writes.
func (c *Codec) WriteMessage(msg *params.Message) error {
	if msg.Version == "" {
		msg.Version = params.Version
	}
	if c.isLogging() {
		logger.Debugf("-> %s", DumpMessage(msg))
	}
	return errors.Trace(c.conn.Send(msg))
}

// Close closes the codec and its underlying connection.
func (c *Codec) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.conn.Close()
}

// DumpMessage returns the JSON text of msg, for logging.
func DumpMessage(msg *params.Message) string {
	data, err := json.Marshal(msg)
	if err != nil {
		return "marshal error: " + err.Error()
	}
	return string(data)
}

// NewNet returns a codec that sends newline separated JSON values over
// the given stream.
func NewNet(rwc io.ReadWriteCloser) *Codec {
	return New(NetJSONConn(rwc))
}

// NetJSONConn returns a JSONConn implementation that uses the given
// connection for transport.
func NetJSONConn(rwc io.ReadWriteCloser) JSONConn {
	return &netConn{
		enc:  json.NewEncoder(rwc),
		dec:  json.NewDecoder(rwc),
		conn: rwc,
	}
}

type netConn struct {
	enc  *json.Encoder
	dec  *json.Decoder
	conn io.ReadWriteCloser
}

func (conn *netConn) Send(msg any) error {
	return conn.enc.Encode(msg)
}

func (conn *netConn) Receive(msg any) error {
	return conn.dec.Decode(msg)
}

func (conn *netConn) Close() error {
	return conn.conn.Close()
}

// NewWebsocket returns a codec that sends each message as a separate
// websocket text frame.
func NewWebsocket(conn *websocket.Conn) *Codec {
	return New(NewWebsocketConn(conn))
}

// NewWebsocketConn returns a JSONConn implementation that uses the
// given websocket connection for transport.
func NewWebsocketConn(conn *websocket.Conn) JSONConn {
	return &wsJSONConn{conn: conn}
}

type wsJSONConn struct {
	conn *websocket.Conn
	// gorilla websockets can have at most one concurrent writer and
	// one concurrent reader.
	writeMutex sync.Mutex
	readMutex  sync.Mutex
}

func (conn *wsJSONConn) Send(msg any) error {
	conn.writeMutex.Lock()
	defer conn.writeMutex.Unlock()
	return conn.conn.WriteJSON(msg)
}

func (conn *wsJSONConn) Receive(msg any) error {
	conn.readMutex.Lock()
	defer conn.readMutex.Unlock()
	return conn.conn.ReadJSON(msg)
}

func (conn *wsJSONConn) Close() error {
	conn.writeMutex.Lock()
	defer conn.writeMutex.Unlock()
	_ = conn.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.conn.Close()
}
