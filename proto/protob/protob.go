// Package protob implements the length-prefixed inline protocol: a
// RESP-style multibulk request ("*N\r\n" followed by N "$len\r\n...\r\n"
// bulk strings) and a small set of response frames (+OK, -ERR, $bulk);
// array replies are not parsed and report engine.ResultError. Unlike
// protoa, protob supports multi-key commands (MGET, MSET, MDEL) that the
// fragmentation engine splits into single-key operations one at a time.
package protob

import (
	"bytes"
	"strconv"

	"github.com/kvmesh/kvmesh/engine"
)

type Role int

const (
	RoleRequest Role = iota
	RoleResponse
)

// Protocol implements engine.Protocol for the inline family.
type Protocol struct {
	Role Role
}

func New(role Role) *Protocol { return &Protocol{Role: role} }

var crlf = []byte("\r\n")

// parse states for the request side, stored in msg.State().
const (
	stHeader = iota // expect "*N\r\n"
	stCmd           // expect the command name bulk string
	stArg           // expect the next argument bulk string (key or value)
)

func (p *Protocol) Parse(msg *engine.Msg) {
	if p.Role == RoleResponse {
		p.parseResponse(msg)
		return
	}
	p.parseRequest(msg)
}

func (p *Protocol) parseRequest(msg *engine.Msg) {
	for {
		switch msg.State() {
		case stHeader:
			var n, ok, again = readHeader(msg)
			if again {
				msg.SetResult(engine.ResultAgain)
				return
			}
			if !ok || n < 1 {
				msg.SetResult(engine.ResultError)
				return
			}
			msg.SetNarg(n)
			msg.SetRnarg(n)
			msg.SetState(stCmd)

		case stCmd:
			var b, ok, again = readBulk(msg)
			if again {
				msg.SetResult(engine.ResultAgain)
				return
			}
			if !ok {
				msg.SetResult(engine.ResultError)
				return
			}
			msg.SetRnarg(msg.Rnarg() - 1)
			var t = commandType(b)
			if t == engine.Unknown {
				msg.SetResult(engine.ResultError)
				return
			}
			msg.SetType(t)
			if expectedArgs(t) >= 0 && msg.Rnarg() != expectedArgs(t) {
				msg.SetResult(engine.ResultError)
				return
			}
			msg.SetState(stArg)

		case stArg:
			var b, ok, again = readBulk(msg)
			if again {
				msg.SetResult(engine.ResultAgain)
				return
			}
			if !ok {
				msg.SetResult(engine.ResultError)
				return
			}
			msg.SetRnarg(msg.Rnarg() - 1)

			switch msg.Type() {
			case engine.Get, engine.Delete:
				msg.SetKey(b)
				msg.SetDone(true)
				msg.SetResult(engine.ResultOK)
				return

			case engine.Set:
				if msg.Rnarg() == 1 {
					// Just consumed the key; the value bulk is still to
					// come. Stay in stArg and let the next loop iteration
					// read it.
					msg.SetKey(b)
					continue
				}
				// Rnarg reached 0: the bulk just consumed was the value.
				msg.SetVlen(len(b))
				msg.SetDone(true)
				msg.SetResult(engine.ResultOK)
				return

			case engine.MGet, engine.MDelete:
				msg.SetKey(b)
				if msg.Rnarg() > 0 {
					msg.SetResult(engine.ResultFragment)
					return
				}
				msg.SetDone(true)
				msg.SetResult(engine.ResultOK)
				return

			case engine.MSet:
				if msg.Rnarg()%2 == 1 {
					// Just consumed a key; its value bulk is next.
					msg.SetKey(b)
					continue
				}
				// Just consumed a value completing the pair.
				msg.SetVlen(len(b))
				if msg.Rnarg() > 0 {
					msg.SetResult(engine.ResultFragment)
					return
				}
				msg.SetDone(true)
				msg.SetResult(engine.ResultOK)
				return
			}
		}
	}
}

func (p *Protocol) parseResponse(msg *engine.Msg) {
	var b, off, ok = engine.FindByte(msg, '\n')
	if !ok {
		msg.SetResult(engine.ResultAgain)
		return
	}
	_ = b
	_ = off

	var firstByte = msg.CurSeg().Buf()[msg.CurSeg().Pos()]
	switch firstByte {
	case '+', '-':
		var lineLen = lineLength(msg)
		engine.AdvanceCursor(msg, lineLen)
		if firstByte == '-' {
			msg.SetType(engine.ErrorResponse)
			msg.SetError(true)
		} else {
			msg.SetType(engine.Response)
		}
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	case '$':
		var n, ok2, again = readHeaderByte(msg, '$')
		if again {
			msg.SetResult(engine.ResultAgain)
			return
		}
		if !ok2 {
			msg.SetResult(engine.ResultError)
			return
		}
		if n < 0 {
			msg.SetType(engine.Response)
			msg.SetDone(true)
			msg.SetResult(engine.ResultOK)
			return
		}
		var need = n + len(crlf)
		if engine.Available(msg) < need {
			msg.SetResult(engine.ResultAgain)
			return
		}
		engine.AdvanceCursor(msg, need)
		msg.SetType(engine.Response)
		msg.SetVlen(n)
		msg.SetDone(true)
		msg.SetResult(engine.ResultOK)

	default:
		msg.SetResult(engine.ResultError)
	}
}

// readHeader consumes a "*N\r\n" header at the cursor.
func readHeader(msg *engine.Msg) (n int, ok bool, again bool) {
	return readHeaderByte(msg, '*')
}

func readHeaderByte(msg *engine.Msg, want byte) (n int, ok bool, again bool) {
	if engine.Available(msg) < 1 {
		return 0, false, true
	}
	if msg.CurSeg().Buf()[msg.CurSeg().Pos()] != want {
		return 0, false, false
	}
	var _, _, found = engine.FindByte(msg, '\n')
	if !found {
		return 0, false, true
	}
	var lineLen = lineLength(msg)
	var line = engine.Gather(msg, lineLen)
	line = bytes.TrimSuffix(line, crlf)
	line = line[1:] // drop the sigil byte
	var v, err = strconv.Atoi(string(line))
	if err != nil {
		return 0, false, false
	}
	engine.AdvanceCursor(msg, lineLen)
	return v, true, false
}

// readBulk consumes one "$len\r\n<len bytes>\r\n" bulk string at the cursor.
func readBulk(msg *engine.Msg) (body []byte, ok bool, again bool) {
	var n, hok, hagain = readHeaderByte(msg, '$')
	if hagain {
		return nil, false, true
	}
	if !hok || n < 0 {
		return nil, false, false
	}
	var need = n + len(crlf)
	if engine.Available(msg) < need {
		return nil, false, true
	}
	var b = engine.Gather(msg, n)
	engine.AdvanceCursor(msg, need)
	return b, true, false
}

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

func commandType(b []byte) engine.CommandType {
	switch string(bytes.ToUpper(b)) {
	case "GET":
		return engine.Get
	case "SET":
		return engine.Set
	case "DEL":
		return engine.Delete
	case "MGET":
		return engine.MGet
	case "MSET":
		return engine.MSet
	case "MDEL":
		return engine.MDelete
	default:
		return engine.Unknown
	}
}

// expectedArgs returns the fixed argument count (excluding the command
// name) for single-key commands, or -1 for the variadic M-commands.
func expectedArgs(t engine.CommandType) int {
	switch t {
	case engine.Get, engine.Delete:
		return 1
	case engine.Set:
		return 2
	default:
		return -1
	}
}

// PreSplitcopy writes a rewritten multibulk header into the sibling that
// Chain.Split is about to populate with the remaining, not-yet-parsed
// key (or key/value) bytes -- the sibling keeps msg's original M-command
// name but with its argument count brought down to what's left. It will be
// parsed from scratch as a fresh command, fragmenting further itself if
// more than one key remains.
func (p *Protocol) PreSplitcopy(msg *engine.Msg, newSeg *engine.Mbuf) {
	var cmd string
	switch msg.Type() {
	case engine.MGet:
		cmd = "mget"
	case engine.MDelete:
		cmd = "mdel"
	case engine.MSet:
		cmd = "mset"
	default:
		return
	}
	var argc = msg.Rnarg() + 1 // remaining keys/pairs plus the command name
	newSeg.CopyIn([]byte("*" + strconv.Itoa(argc) + "\r\n"))
	newSeg.CopyIn([]byte("$" + strconv.Itoa(len(cmd)) + "\r\n" + cmd + "\r\n"))
}

// PostSplitcopy re-designates msg, which retains only the bytes already
// parsed (its own original command name plus the key/value just consumed),
// as the single-key operation PreSplitcopy's remaining-keys rewrite left
// behind. The group's remaining argument count was already decremented
// during Parse.
func (p *Protocol) PostSplitcopy(msg *engine.Msg) error {
	switch msg.Type() {
	case engine.MGet:
		msg.SetType(engine.Get)
	case engine.MDelete:
		msg.SetType(engine.Delete)
	case engine.MSet:
		msg.SetType(engine.Set)
	}
	msg.SetDone(true)
	msg.SetResult(engine.ResultOK)
	return nil
}

// PreCoalesce/PostCoalesce are no-ops: protob does not merge a fragment
// group's responses into one array reply, and nothing in this module calls
// them. The group's bookkeeping (Msg.Nfrag, Msg.FragOwner) is kept by the
// engine.
func (p *Protocol) PreCoalesce(msg *engine.Msg)  {}
func (p *Protocol) PostCoalesce(msg *engine.Msg) {}
