package conn

import (
	"errors"
	"net"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tobsdb/recstore/pkg"
	"golang.org/x/time/rate"
)

// transport moves whole messages over one client connection.
type transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	Close() error
	RemoteAddr() net.Addr
}

type tcpTransport struct{ net.Conn }

func newTCPTransport(c net.Conn) transport { return tcpTransport{c} }

func (t tcpTransport) ReadMessage() ([]byte, error) { return pkg.ConnReadBytes(t.Conn) }

func (t tcpTransport) WriteMessage(buf []byte) error {
	_, err := pkg.ConnWriteBytes(t.Conn, buf)
	return err
}

type wsTransport struct{ *websocket.Conn }

func (t wsTransport) ReadMessage() ([]byte, error) {
	_, buf, err := t.Conn.ReadMessage()
	return buf, err
}

func (t wsTransport) WriteMessage(buf []byte) error {
	return t.Conn.WriteMessage(websocket.TextMessage, buf)
}

type ConnCtx struct {
	// identifies the connection in logs
	Id string

	conn        transport
	limiter     *rate.Limiter
	shouldClose bool
}

func NewConnCtx(c transport, limiter *rate.Limiter) *ConnCtx {
	return &ConnCtx{Id: uuid.NewString(), conn: c, limiter: limiter}
}

const shouldCloseError = "connection marked for close"

func (ctx *ConnCtx) Read() ([]byte, error) {
	if ctx.shouldClose {
		return nil, errors.New(shouldCloseError)
	}
	return ctx.conn.ReadMessage()
}

func (ctx *ConnCtx) Write(buf []byte) error {
	if ctx.shouldClose {
		return errors.New(shouldCloseError)
	}
	return ctx.conn.WriteMessage(buf)
}

func (ctx *ConnCtx) WriteResponse(r Response) error { return ctx.Write(r.Marshal()) }

// Allow reports whether the connection may make another request now.
func (ctx *ConnCtx) Allow() bool { return ctx.limiter == nil || ctx.limiter.Allow() }

func (ctx *ConnCtx) Close() error {
	ctx.shouldClose = true
	return ctx.conn.Close()
}
