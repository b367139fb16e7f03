// Package protoa implements the text-line wire protocol: single-key
// GET/SET/DELETE requests and VALUE/STORED/DELETED/NOT_FOUND/ERROR
// responses, each terminated by CRLF. It never fragments -- every command
// names exactly one key -- so its PreSplitcopy/PostSplitcopy hooks are
// no-ops, and Parse never reports engine.ResultFragment.
package protoa

import (
	"bytes"
	"strconv"

	"github.com/kvmesh/kvmesh/engine"
)

// Protocol implements engine.Protocol for the text-line family. Role
// selects request-side or response-side parsing; cmd/proxy installs a
// RoleRequest instance on each inbound message.
type Protocol struct {
	Role Role
}

type Role int

const (
	RoleRequest Role = iota
	RoleResponse
)

func New(role Role) *Protocol { return &Protocol{Role: role} }

var (
	crlf = []byte("\r\n")
	sp   = byte(' ')
)

func (p *Protocol) Parse(msg *engine.Msg) {
	if p.Role == RoleResponse {
		p.parseResponse(msg)
		return
	}
	p.parseRequest(msg)
}

// parseRequest recognizes "GET <key>\r\n", "DELETE <key>\r\n", and
// "SET <key> <len>\r\n<len bytes of value>\r\n"; command names match
// case-insensitively.
func (p *Protocol) parseRequest(msg *engine.Msg) {
	switch msg.State() {
	case 0:
		p.parseCommandLine(msg)
	case 1:
		p.parseSetBody(msg)
	}
}

func (p *Protocol) parseCommandLine(msg *engine.Msg) {
	var seg, off, ok = engine.FindByte(msg, '\n')
	if !ok {
		if msg.CurSeg().IsEmpty() && msg.CurSeg().Next() != nil {
			msg.SetResult(engine.ResultRepair)
			return
		}
		msg.SetResult(engine.ResultAgain)
		return
	}
	_ = seg
	_ = off

	var lineLen = lineLength(msg)
	var line = engine.Gather(msg, lineLen)
	line = bytes.TrimSuffix(line, crlf)

	var fields = bytes.SplitN(line, []byte{sp}, 3)
	if len(fields) < 2 {
		msg.SetResult(engine.ResultError)
		return
	}

	var cmd = string(bytes.ToUpper(fields[0]))
	var key = fields[1]

	switch cmd {
	case "GET":
		if len(fields) != 2 {
			msg.SetResult(engine.ResultError)
			return
		}
		msg.SetType(engine.Get)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetKey(key)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	case "DELETE":
		if len(fields) != 2 {
			msg.SetResult(engine.ResultError)
			return
		}
		msg.SetType(engine.Delete)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetKey(key)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	case "SET":
		if len(fields) != 3 {
			msg.SetResult(engine.ResultError)
			return
		}
		var vlen, err = strconv.Atoi(string(fields[2]))
		if err != nil || vlen < 0 {
			msg.SetResult(engine.ResultError)
			return
		}
		msg.SetType(engine.Set)
		msg.SetKey(key)
		msg.SetVlen(vlen)
		msg.SetRlen(vlen)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetState(1)
		p.parseSetBody(msg)

	default:
		msg.SetResult(engine.ResultError)
	}
}

func (p *Protocol) parseSetBody(msg *engine.Msg) {
	var need = msg.Vlen() + len(crlf)
	if engine.Available(msg) < need {
		msg.SetResult(engine.ResultAgain)
		return
	}
	engine.AdvanceCursor(msg, need)
	msg.SetDone(true)
	msg.SetResult(engine.ResultOK)
}

func (p *Protocol) parseResponse(msg *engine.Msg) {
	var _, off, ok = engine.FindByte(msg, '\n')
	if !ok {
		msg.SetResult(engine.ResultAgain)
		return
	}
	_ = off
	var lineLen = lineLength(msg)
	var line = bytes.TrimSuffix(engine.Gather(msg, lineLen), crlf)

	switch {
	case bytes.Equal(line, []byte("OK")), bytes.Equal(line, []byte("STORED")),
		bytes.Equal(line, []byte("DELETED")):
		msg.SetType(engine.Response)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	case bytes.Equal(line, []byte("NOT_FOUND")):
		msg.SetType(engine.Response)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	case bytes.HasPrefix(line, []byte("VALUE ")):
		var vlen, err = strconv.Atoi(string(bytes.TrimPrefix(line, []byte("VALUE "))))
		if err != nil || vlen < 0 {
			msg.SetResult(engine.ResultError)
			return
		}
		var need = lineLen + vlen + len(crlf)
		if engine.Available(msg) < need {
			msg.SetResult(engine.ResultAgain)
			return
		}
		msg.SetType(engine.Response)
		msg.SetVlen(vlen)
		engine.AdvanceCursor(msg, need)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	default:
		msg.SetType(engine.ErrorResponse)
		msg.SetError(true)
		engine.AdvanceCursor(msg, lineLen)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)
	}
}

// lineLength returns the number of bytes from the cursor through and
// including the '\n' just located by FindByte, regardless of how many
// segments it spans.
func lineLength(msg *engine.Msg) int {
	var n int
	var s = msg.CurSeg()
	var off = s.Pos()
	for {
		for i := off; i < s.Last(); i++ {
			n++
			if s.Buf()[i] == '\n' {
				return n
			}
		}
		s = s.Next()
		off = 0
	}
}

func (p *Protocol) PreSplitcopy(msg *engine.Msg, newSeg *engine.Mbuf) {}
func (p *Protocol) PostSplitcopy(msg *engine.Msg) error               { return nil }
func (p *Protocol) PreCoalesce(msg *engine.Msg)                       {}
func (p *Protocol) PostCoalesce(msg *engine.Msg)                      {}
