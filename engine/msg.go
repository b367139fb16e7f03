package engine

import (
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// Family identifies which wire-protocol family a message belongs to.
type Family uint8

const (
	// FamilyA is the simple text-line protocol.
	FamilyA Family = iota
	// FamilyB is the length-prefixed inline protocol.
	FamilyB
)

func (f Family) String() string {
	if f == FamilyA {
		return "A"
	}
	return "B"
}

// Plane reports the stats label for which side of the proxy a connection
// serves -- client traffic or inter-node replication traffic.
func Plane(dynMode bool) string {
	if dynMode {
		return "replication"
	}
	return "client"
}

// CommandType is the decoded kind of a parsed message.
type CommandType int

const (
	Unknown CommandType = iota
	Get
	Set
	Delete
	MGet
	MSet
	MDelete
	Response
	ErrorResponse
)

func (t CommandType) String() string {
	switch t {
	case Get:
		return "get"
	case Set:
		return "set"
	case Delete:
		return "delete"
	case MGet:
		return "mget"
	case MSet:
		return "mset"
	case MDelete:
		return "mdelete"
	case Response:
		return "response"
	case ErrorResponse:
		return "error_response"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Protocol.Parse invocation.
type Result int

const (
	ResultOK Result = iota
	ResultFragment
	ResultRepair
	ResultAgain
	ResultError
)

// Protocol is the family-and-role-specific behavior bound to a Msg at
// acquisition time: parsing, and the fragmentation/coalescing hooks.
type Protocol interface {
	// Parse advances msg.pos and sets msg.result (and any decoded fields)
	// by examining bytes starting at the message's current parse position.
	Parse(msg *Msg)
	// PreSplitcopy writes protocol-specific prefix bytes (eg. a rewritten
	// command preamble) into newSeg, which forms the head of a freshly
	// split-off sibling chain. May be nil content (no prefix needed).
	PreSplitcopy(msg *Msg, newSeg *Mbuf)
	// PostSplitcopy patches msg (eg. decrements an argument count) after a
	// split has been performed. Returning an error aborts the fragmentation
	// attempt; the split-off chain is released back to the pool by the
	// caller.
	PostSplitcopy(msg *Msg) error
	// PreCoalesce and PostCoalesce implement the dual response-side
	// operation: re-emitting one protocol-correct response from a
	// completed fragment group. The engine never invokes them, and neither
	// does proxyconn; the protoa and protob implementations are no-ops.
	PreCoalesce(msg *Msg)
	PostCoalesce(msg *Msg)
}

// Connection is the minimal contract the engine requires of whatever owns
// and drives a Msg. See proxyconn for a concrete net.Conn-backed
// implementation.
type Connection interface {
	Family() Family
	DynMode() bool
	AESKey() []byte
	RecvReady() bool
	SendReady() bool

	// Recv fills b from the transport, returning the number of bytes read.
	// A transient (would-block) condition is reported as an *Error with
	// ClassTransient, not as io.EOF or a plain error.
	Recv(b []byte) (int, error)
	// Sendv writes bufs as a single bounded scatter-gather operation,
	// returning the number of bytes actually written -- which may be less
	// than the total requested on a partial send.
	Sendv(bufs [][]byte) (int64, error)

	RecvNext(alloc bool) *Msg
	SendNext() *Msg
	RecvDone(msg, next *Msg)
	SendDone(msg *Msg)

	// PendingSends returns a FIFO snapshot of the send queue for the send
	// driver's gather phase (spec 4.7 step 2-3), without mutating it --
	// only SendDone pops a message off the queue.
	PendingSends() []*Msg

	// ServerTimeout returns this connection's per-request deadline
	// duration, consulted by the timeout index at arm time (spec 4.3).
	// Zero or negative disables timeout tracking for its messages.
	ServerTimeout() time.Duration

	SetErr(err error)
}

// Msg is the parsing and I/O state for one in-flight request or response.
type Msg struct {
	id uint64

	owner Connection
	peer  *Msg

	request bool
	family  Family
	dynMode bool
	proto   Protocol

	chain  Chain
	curSeg *Mbuf // segment currently holding the parser's position

	result Result
	state  int // opaque parser scratch slot for multi-call parses

	typ  CommandType
	key  []byte
	vlen int

	fragID        uint64
	fragOwner     *Msg
	nfrag         int
	firstFragment bool
	lastFragment  bool

	narg  int
	rnarg int
	rlen  int

	errorFlag bool
	ferror    bool
	done      bool
	fdone     bool
	quit      bool
	noreply   bool
	swallow   bool

	isRead bool

	dmsg Dmsg // zero value means "absent"; dmsg.Present reports attachment

	tmoDeadline time.Time // zero means "not in timeout index"
	tmoKey      int64     // stable key so llrb lookups survive re-slicing

	stimeInMicrosec int64
}

// ID returns the message's monotonically increasing identifier.
func (m *Msg) ID() uint64 { return m.id }

// Owner returns the connection that produced or consumes this message.
func (m *Msg) Owner() Connection { return m.owner }

// SetOwner assigns the owning connection, used when a driver attaches a
// freshly split-off sibling to the same connection as its source.
func (m *Msg) SetOwner(c Connection) { m.owner = c }

// Peer returns the paired message on the opposite side of the proxy.
func (m *Msg) Peer() *Msg { return m.peer }

// LinkPeer establishes a (request, response) pairing. It is symmetric:
// both messages point at each other.
func LinkPeer(a, b *Msg) {
	a.peer = b
	b.peer = a
}

// UnlinkPeer clears the peer link on both sides, if set.
func (m *Msg) UnlinkPeer() {
	if m.peer != nil {
		m.peer.peer = nil
		m.peer = nil
	}
}

// IsRequest reports the message's role.
func (m *Msg) IsRequest() bool { return m.request }

// Family reports which protocol family produced this message.
func (m *Msg) Family() Family { return m.family }

// DynMode reports whether this message travels the replication plane.
func (m *Msg) DynMode() bool { return m.dynMode }

// SetProtocol installs the Protocol used to parse and fragment this message.
func (m *Msg) SetProtocol(p Protocol) { m.proto = p }

// Protocol returns the installed Protocol, or nil if none was set.
func (m *Msg) Protocol() Protocol { return m.proto }

// Chain returns the message's buffer chain.
func (m *Msg) Chain() *Chain { return &m.chain }

// Mlen returns the total bytes written into the message's chain.
func (m *Msg) Mlen() int { return m.chain.Mlen() }

// Result returns the outcome of the most recent Parse call.
func (m *Msg) Result() Result { return m.result }

// SetResult is called by a Protocol.Parse implementation to report its
// outcome.
func (m *Msg) SetResult(r Result) { m.result = r }

// CurSeg returns the segment currently holding the parser's cursor.
func (m *Msg) CurSeg() *Mbuf { return m.curSeg }

// SetCurSeg repositions the parser's cursor to a specific segment, used when
// advancing past an exhausted segment to the next one in the chain.
func (m *Msg) SetCurSeg(seg *Mbuf) { m.curSeg = seg }

// AtChainEnd reports whether the parser's cursor has reached the last
// written byte of the chain -- ie. the message, as currently buffered, is
// fully consumed.
func (m *Msg) AtChainEnd() bool {
	return m.curSeg == m.chain.tail && m.curSeg != nil && m.curSeg.pos >= m.curSeg.last
}

// Type returns the decoded command kind.
func (m *Msg) Type() CommandType { return m.typ }

// SetType sets the decoded command kind.
func (m *Msg) SetType(t CommandType) { m.typ = t }

// Key returns the decoded key bytes, or nil if none were parsed.
func (m *Msg) Key() []byte { return m.key }

// SetKey records the decoded key bytes, copied out of the chain by the
// protocol's Parse implementation.
func (m *Msg) SetKey(k []byte) { m.key = k }

// Vlen returns the decoded value length (SET) or response body length.
func (m *Msg) Vlen() int { return m.vlen }

// SetVlen records the decoded value length.
func (m *Msg) SetVlen(n int) { m.vlen = n }

// Narg, SetNarg, Rnarg, SetRnarg, Rlen, SetRlen expose the Proto-B framing
// scratch fields used by the inline-protocol parser across multiple Parse
// invocations.
func (m *Msg) Narg() int      { return m.narg }
func (m *Msg) SetNarg(n int)  { m.narg = n }
func (m *Msg) Rnarg() int     { return m.rnarg }
func (m *Msg) SetRnarg(n int) { m.rnarg = n }
func (m *Msg) Rlen() int      { return m.rlen }
func (m *Msg) SetRlen(n int)  { m.rlen = n }

// State exposes an opaque integer slot a Protocol may use to remember
// progress across multiple Parse calls on the same message.
func (m *Msg) State() int     { return m.state }
func (m *Msg) SetState(s int) { m.state = s }

// Fragment-group accessors (C7 / invariant 2-3).
func (m *Msg) FragID() uint64      { return m.fragID }
func (m *Msg) FragOwner() *Msg     { return m.fragOwner }
func (m *Msg) Nfrag() int          { return m.nfrag }
func (m *Msg) FirstFragment() bool { return m.firstFragment }
func (m *Msg) LastFragment() bool  { return m.lastFragment }
func (m *Msg) IsFragmented() bool  { return m.fragID != 0 }

// Error, Done, Quit, NoReply, Swallow flags.
func (m *Msg) Error() bool          { return m.errorFlag }
func (m *Msg) SetError(b bool)      { m.errorFlag = b }
func (m *Msg) FError() bool         { return m.ferror }
func (m *Msg) SetFError(b bool)     { m.ferror = b }
func (m *Msg) Done() bool           { return m.done }
func (m *Msg) SetDone(b bool)       { m.done = b }
func (m *Msg) FDone() bool          { return m.fdone }
func (m *Msg) SetFDone(b bool)      { m.fdone = b }
func (m *Msg) Quit() bool           { return m.quit }
func (m *Msg) SetQuit(b bool)       { m.quit = b }
func (m *Msg) NoReply() bool        { return m.noreply }
func (m *Msg) SetNoReply(b bool)    { m.noreply = b }
func (m *Msg) Swallow() bool        { return m.swallow }
func (m *Msg) SetSwallow(b bool)    { m.swallow = b }
func (m *Msg) IsRead() bool         { return m.isRead }
func (m *Msg) SetIsRead(b bool)     { m.isRead = b }

// Dmsg returns a pointer to the message's (possibly absent) internode
// envelope.
func (m *Msg) Dmsg() *Dmsg { return &m.dmsg }

// StimeInMicrosec returns the timestamp of the message's entry into the
// engine, for latency stats.
func (m *Msg) StimeInMicrosec() int64     { return m.stimeInMicrosec }
func (m *Msg) SetStimeInMicrosec(t int64) { m.stimeInMicrosec = t }

// llrbItem adapts a Msg into a llrb.Item ordered by deadline, breaking ties
// by the index's insertion key so two messages sharing a deadline remain
// distinctly ordered.
type llrbItem struct {
	deadline time.Time
	key      int64
	msg      *Msg
}

func (it *llrbItem) Less(than llrb.Item) bool {
	var o = than.(*llrbItem)
	if it.deadline.Equal(o.deadline) {
		return it.key < o.key
	}
	return it.deadline.Before(o.deadline)
}
