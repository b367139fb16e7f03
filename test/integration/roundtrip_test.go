// Package integration exercises the engine, proto/protoa, and proxyconn
// packages together against a loopback connection, the way a single
// client-plane event-loop iteration would in the real binary.
package integration

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/kvmesh/kvmesh/engine"
	"github.com/kvmesh/kvmesh/proto/protoa"
	"github.com/kvmesh/kvmesh/proxyconn"
)

// store is a minimal in-memory backend stub standing in for the real
// key/value store this proxy fronts.
type store struct {
	data map[string][]byte
}

func (s *store) handle(msg *engine.Msg) []byte {
	switch msg.Type() {
	case engine.Set:
		s.data[string(msg.Key())] = gatherValue(msg)
		return []byte("STORED\r\n")

	case engine.Get:
		var v, ok = s.data[string(msg.Key())]
		if !ok {
			return []byte("NOT_FOUND\r\n")
		}
		var resp = append([]byte("VALUE "), []byte(strconv.Itoa(len(v)))...)
		resp = append(resp, '\r', '\n')
		resp = append(resp, v...)
		resp = append(resp, '\r', '\n')
		return resp

	case engine.Delete:
		delete(s.data, string(msg.Key()))
		return []byte("DELETED\r\n")

	default:
		return []byte("ERROR\r\n")
	}
}

// gatherValue walks msg's chain and extracts the value bytes of a SET
// command: the vlen bytes immediately preceding the trailing CRLF, which
// may span more than one segment.
func gatherValue(msg *engine.Msg) []byte {
	var all []byte
	for seg := msg.Chain().Head(); seg != nil; seg = seg.Next() {
		all = append(all, seg.Buf()[:seg.Last()]...)
	}
	if len(all) < msg.Vlen()+2 {
		return nil
	}
	var tail = all[len(all)-msg.Vlen()-2:]
	return tail[:msg.Vlen()]
}

// serve drains one client-plane connection: parse each request with protoa,
// hand it to the backend stub, and write the response line directly.
func serve(t *testing.T, nc net.Conn, pool *engine.MsgPool) {
	t.Helper()
	var conn = proxyconn.New(nc, pool, engine.FamilyA, false, nil, 750*time.Millisecond, logrus.NewEntry(logrus.New()))
	defer conn.Close()

	var s = &store{data: make(map[string][]byte)}

	for conn.Err() == nil {
		var msg = conn.RecvNext(true)
		if msg == nil {
			return
		}
		msg.SetProtocol(protoa.New(protoa.RoleRequest))

		var done, err = engine.Recv(pool, msg, nil)
		if err != nil {
			return
		}

		for _, m := range done {
			var resp = s.handle(m)
			if _, werr := nc.Write(resp); werr != nil {
				return
			}
		}
	}
}

func TestProxyRoundTripSetThenGet(t *testing.T) {
	var client, server = net.Pipe()
	defer client.Close()

	var pool = engine.NewMsgPool(256, 10, 10)
	go serve(t, server, pool)

	var _, err = client.Write([]byte("SET foo 3\r\nbar\r\n"))
	assert.NoError(t, err)

	var buf = make([]byte, 64)
	var n int
	n, err = client.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "STORED\r\n", string(buf[:n]))

	_, err = client.Write([]byte("GET foo\r\n"))
	assert.NoError(t, err)

	n, err = client.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "VALUE 3\r\nbar\r\n", string(buf[:n]))
}

func TestProxyRoundTripGetMissingKey(t *testing.T) {
	var client, server = net.Pipe()
	defer client.Close()

	var pool = engine.NewMsgPool(256, 10, 10)
	go serve(t, server, pool)

	var _, err = client.Write([]byte("GET missing\r\n"))
	assert.NoError(t, err)

	var buf = make([]byte, 64)
	var n int
	n, err = client.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "NOT_FOUND\r\n", string(buf[:n]))
}
