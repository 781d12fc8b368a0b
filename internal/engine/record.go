package engine

// TxnType selects which transactional data phase, if any, a command uses.
type TxnType int

const (
	// TxnNone is a plain command: send, then wait for a terminal line.
	TxnNone TxnType = iota
	// TxnPromptSend sends cmd, waits for a prompt, then sends payload+terminator.
	TxnPromptSend
	// TxnLengthSend sends cmd, then immediately sends payload+terminator.
	TxnLengthSend
	// TxnPromptLineRx sends cmd, waits for a prompt, then accumulates
	// subsequent lines into the response until a terminal line arrives.
	TxnPromptLineRx
	// TxnPromptBinaryRx sends cmd, waits for a prompt, then captures raw
	// bytes (by fixed length or terminator) instead of lines.
	TxnPromptBinaryRx
)

// Txn is a caller-owned transaction descriptor. It must outlive the command
// it is attached to: the engine never copies, frees, or mutates the byte
// slices it holds.
type Txn struct {
	Type TxnType

	// Payload and Terminator are sent verbatim, in that order, for
	// TxnPromptSend and TxnLengthSend.
	Payload    []byte
	Terminator []byte

	// Prompt is the inbound byte pattern that gates the data phase of
	// TxnPromptSend, TxnPromptLineRx, and TxnPromptBinaryRx. If empty on a
	// TxnPromptSend, it defaults to "> ".
	Prompt []byte

	// RxLen, for TxnPromptBinaryRx, is the fixed number of bytes to
	// capture. Zero means "until RxTerminator matches". Exactly one of
	// RxLen and RxTerminator must be set.
	RxLen        int
	RxTerminator []byte
}

// Callback is invoked exactly once per submitted command, from inside
// Engine.Poll. response is a line-joined, NUL-free string for ordinary
// command outcomes, the literal "TIMEOUT" on timeout, or a raw byte buffer
// for a successful TxnPromptBinaryRx — success disambiguates. response is
// only valid for the duration of the call; implementations that need to
// retain it must copy it.
type Callback func(success bool, response []byte, userArg any)

// txnProgress tracks per-record advancement through a transaction's data
// phase. It lives inside record so no command allocates on the hot path.
type txnProgress struct {
	cmdSent int

	promptMatched  int
	promptReceived bool

	payloadStarted bool
	payloadSent    int
	terminatorSent int

	lineRxMode   bool
	binaryRxMode bool

	rxBinaryReceived int
	rxTermMatched    int
}

// record is a value-typed command record; cmdBuf and respBuf are fixed
// slices into a queue-owned backing array, so a record never allocates
// after its owning queue is constructed.
type record struct {
	cmdBuf  []byte
	cmd     []byte
	respBuf []byte
	resp    []byte
	respLen int

	success   bool
	timeoutMS uint32
	startMS   uint32

	cb      Callback
	userArg any
	txn     *Txn

	progress txnProgress
}

// reset clears a record for reuse, preserving its backing buffers.
func (r *record) reset() {
	r.cmd = r.cmdBuf[:0]
	r.resp = r.respBuf[:0]
	r.respLen = 0
	r.success = false
	r.timeoutMS = 0
	r.startMS = 0
	r.cb = nil
	r.userArg = nil
	r.txn = nil
	r.progress = txnProgress{}
}
