// Package proxyconn implements engine.Connection over a net.Conn, queuing
// inbound and outbound messages the way the engine's drivers expect: one
// message being actively filled or drained at a time, with completed
// messages queued for the caller (the event loop) to hand off.
package proxyconn

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/engine"
)

// Conn adapts a net.Conn to engine.Connection for one client-plane or
// replication-plane peer connection.
type Conn struct {
	nc net.Conn

	family  engine.Family
	dynMode bool
	aesKey  []byte
	timeout time.Duration

	pool *engine.MsgPool
	log  *logrus.Entry

	recvQueue []*engine.Msg // messages fully received, awaiting dispatch
	sendQueue []*engine.Msg // messages queued to send, head is in flight

	recving *engine.Msg
	err     error
}

// New wraps nc for family, optionally enabling replication-plane mode with
// the given AES key. timeout is this connection's per-request deadline,
// consulted by the engine's timeout index at arm time; zero disables it.
func New(nc net.Conn, pool *engine.MsgPool, family engine.Family, dynMode bool, aesKey []byte, timeout time.Duration, log *logrus.Entry) *Conn {
	return &Conn{nc: nc, family: family, dynMode: dynMode, aesKey: aesKey, timeout: timeout, pool: pool, log: log}
}

func (c *Conn) Family() engine.Family        { return c.family }
func (c *Conn) DynMode() bool                { return c.dynMode }
func (c *Conn) AESKey() []byte               { return c.aesKey }
func (c *Conn) ServerTimeout() time.Duration { return c.timeout }

func (c *Conn) RecvReady() bool { return c.err == nil }
func (c *Conn) SendReady() bool { return c.err == nil && len(c.sendQueue) > 0 }

// Recv reads once from the underlying socket. A read deadline timeout is
// reported as ClassTransient; any other failure, including io.EOF when the
// peer closes its write side, is reported as ClassFatal.
func (c *Conn) Recv(b []byte) (int, error) {
	c.nc.SetReadDeadline(time.Now().Add(30 * time.Second))
	var n, err = c.nc.Read(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, engine.NewError(engine.ClassTransient, err)
		}
		return n, engine.NewError(engine.ClassFatal, errors.Wrap(err, "recv"))
	}
	return n, nil
}

// Sendv writes bufs using the connection's scatter-gather write path.
func (c *Conn) Sendv(bufs [][]byte) (int64, error) {
	var nb = net.Buffers(bufs)
	c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	var n, err = nb.WriteTo(c.nc)
	if err != nil {
		return n, engine.NewError(engine.ClassFatal, errors.Wrap(err, "sendv"))
	}
	return n, nil
}

// RecvNext returns the message currently being filled, acquiring a fresh
// one from the pool if alloc is true and none is in progress. A
// replication-plane connection acquires forced, bypassing the soft ceiling.
func (c *Conn) RecvNext(alloc bool) *engine.Msg {
	if c.recving == nil && alloc {
		if c.dynMode {
			c.recving = c.pool.AcquireForced(true, c.family)
		} else {
			c.recving = c.pool.Acquire(true, c.family)
		}
		if c.recving != nil {
			c.recving.SetOwner(c)
		}
	}
	return c.recving
}

// SendNext returns the head of the send queue, or nil if empty.
func (c *Conn) SendNext() *engine.Msg {
	if len(c.sendQueue) == 0 {
		return nil
	}
	return c.sendQueue[0]
}

// RecvDone marks msg as fully parsed and queues it for dispatch, arming the
// connection to start filling next (which may be a fragment sibling already
// produced by the parser driver, or nil to acquire fresh on the next call).
func (c *Conn) RecvDone(msg, next *engine.Msg) {
	c.recvQueue = append(c.recvQueue, msg)
	c.recving = next
}

// SendDone pops msg off the send queue once the send driver reports it
// fully drained.
func (c *Conn) SendDone(msg *engine.Msg) {
	if len(c.sendQueue) > 0 && c.sendQueue[0] == msg {
		c.sendQueue = c.sendQueue[1:]
	}
}

// Enqueue appends msg to the send queue.
func (c *Conn) Enqueue(msg *engine.Msg) { c.sendQueue = append(c.sendQueue, msg) }

// PendingSends returns a snapshot of the send queue in FIFO order.
func (c *Conn) PendingSends() []*engine.Msg {
	return append([]*engine.Msg(nil), c.sendQueue...)
}

// DrainRecvQueue returns and clears messages queued by RecvDone.
func (c *Conn) DrainRecvQueue() []*engine.Msg {
	var out = c.recvQueue
	c.recvQueue = nil
	return out
}

func (c *Conn) SetErr(err error) {
	c.err = err
	if c.log != nil {
		c.log.WithError(err).Warn("connection error")
	}
}

func (c *Conn) Err() error { return c.err }

func (c *Conn) Close() error { return c.nc.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
