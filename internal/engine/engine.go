// Package engine implements the per-port AT command engine: the in-flight
// command state machine, the response/URC line dispatcher, the
// transactional data phases (prompt-driven and length-driven payload
// streaming, plus inbound binary reception), the timeout mechanism, and
// the byte-to-line parser that feeds them.
//
// The engine is single-threaded cooperative: Poll must be called
// repeatedly by one executor and never suspends, blocks, or yields. All
// queue, record, and buffer capacity is fixed at construction time
// (PortConfig), so Poll allocates no storage for commands or responses;
// logging and the recording of a port's last error do allocate.
package engine

import (
	"strings"

	"github.com/atcortex/atengine/internal/logging"
)

var defaultPrompt = []byte("> ")

var crlf = [2]byte{'\r', '\n'}

// PortConfig dimensions one port's queue, buffers, and URC table. See
// SPEC_FULL.md §6 for the full configuration table.
type PortConfig struct {
	MaxQueue         int
	MaxCmdLen        int
	MaxRespLen       int
	MaxLineLen       int
	MaxURCHandlers   int
	DefaultTimeoutMS uint32
	EchoIgnore       bool
}

// Port is the per-port context of spec.md §3: queue, busy/echo/suppress
// flags, parser accumulator, and URC table.
type Port struct {
	index     int
	cfg       PortConfig
	transport Transport
	logger    logging.Logger
	observer  Observer

	queue  *queue
	urc    *urcTable
	parser *lineParser

	busy          bool
	echoIgnore    bool
	echoPending   bool
	suppressLines bool
	lastErr       string

	readBuf []byte
}

const readChunkSize = 256

// Engine owns a set of independently-clocked ports and exposes the single
// Poll entry point of spec.md §4.E.
type Engine struct {
	ports []*Port
}

// New constructs an Engine with one Port per entry in configs, calling
// transport.Init(i) for each port index i. logger and observer may be nil;
// they default to logging.Default() and a no-op Observer respectively.
func New(transport Transport, configs []PortConfig, logger logging.Logger, observer Observer) (*Engine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	ports := make([]*Port, len(configs))
	for i, cfg := range configs {
		if err := transport.Init(i); err != nil {
			return nil, err
		}
		ports[i] = &Port{
			index:      i,
			cfg:        cfg,
			transport:  transport,
			logger:     logger.With(logging.Field{Key: "port", Value: i}),
			observer:   observer,
			queue:      newQueue(cfg.MaxQueue, cfg.MaxCmdLen, cfg.MaxRespLen),
			urc:        newURCTable(cfg.MaxURCHandlers, cfg.MaxCmdLen),
			parser:     newLineParser(cfg.MaxLineLen),
			echoIgnore: cfg.EchoIgnore,
			readBuf:    make([]byte, readChunkSize),
		}
	}
	return &Engine{ports: ports}, nil
}

// PortCount returns the number of configured ports.
func (e *Engine) PortCount() int { return len(e.ports) }

// Poll drives every port through one iteration of the per-poll procedure:
// read, timeout, start, advance. It must be called repeatedly by the
// host's single executor and returns promptly; it never blocks.
func (e *Engine) Poll() {
	for _, p := range e.ports {
		p.poll()
	}
}

// PortBusy reports whether port currently has a command in flight.
func (e *Engine) PortBusy(port int) bool { return e.ports[port].busy }

// PortQueueDepth reports how many records are queued (including the
// in-flight one) on port.
func (e *Engine) PortQueueDepth(port int) int { return e.ports[port].queue.count }

// PortQueueCap reports the configured queue depth of port.
func (e *Engine) PortQueueCap(port int) int { return len(e.ports[port].queue.records) }

// PortLastError reports the most recent failure or timeout reason observed
// on port, or "" if none has occurred since the engine started.
func (e *Engine) PortLastError(port int) string { return e.ports[port].lastErr }

// RegisterURC registers a URC handler on the given port. See spec.md §4.B.
func (e *Engine) RegisterURC(port int, prefix string, handler URCHandler, userArg any) error {
	if port < 0 || port >= len(e.ports) {
		return ErrInvalidPort
	}
	return e.ports[port].urc.register([]byte(prefix), handler, userArg)
}

// UnregisterURC removes a previously-registered URC handler by prefix.
func (e *Engine) UnregisterURC(port int, prefix string) error {
	if port < 0 || port >= len(e.ports) {
		return ErrInvalidPort
	}
	return e.ports[port].urc.unregister([]byte(prefix))
}

func (p *Port) poll() {
	p.readStep()
	p.timeoutStep()
	p.startStep()
	p.advanceStep()
}

// readStep implements spec.md §4.E step 1: drain the transport, routing
// bytes through the binary-receive consumer, the prompt scanner, or the
// line parser depending on in-flight record state.
func (p *Port) readStep() {
	for {
		n, err := p.transport.Read(p.index, p.readBuf)
		if err != nil {
			p.logger.Warn("transport read error", logging.Field{Key: "error", Value: err})
			return
		}
		if n == 0 {
			return
		}
		p.processChunk(p.readBuf[:n])
	}
}

func (p *Port) processChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	var r *record
	if p.busy {
		r, _ = p.queue.front()
	}

	if r != nil && r.progress.binaryRxMode {
		leftover := p.consumeBinaryRx(r, chunk)
		if len(leftover) > 0 {
			p.processChunk(leftover)
		}
		return
	}

	if r != nil && r.txn != nil && !r.progress.promptReceived && needsPromptScan(r.txn.Type) {
		chunk = p.scanPrompt(r, chunk)
		if r.progress.binaryRxMode {
			p.processChunk(chunk)
			return
		}
	}
	if len(chunk) == 0 {
		return
	}
	p.parser.feed(chunk, p.handleLine, func(msg string) { p.logger.Warn(msg) })
}

// timeoutStep implements spec.md §4.E step 2.
func (p *Port) timeoutStep() {
	if !p.busy {
		return
	}
	r, ok := p.queue.front()
	if !ok {
		return
	}
	now := p.transport.NowMS(p.index)
	elapsed := now - r.startMS
	if elapsed >= r.timeoutMS {
		p.completeTimeout(r, elapsed)
	}
}

func (p *Port) completeTimeout(r *record, elapsedMS uint32) {
	r.success = false
	p.lastErr = "TIMEOUT"
	if r.cb != nil {
		r.cb(false, []byte("TIMEOUT"), r.userArg)
	}
	p.observer.Timeout(p.index, elapsedMS)
	p.queue.pop()
	p.busy = false
	p.echoPending = false
	p.suppressLines = false
}

// startStep implements spec.md §4.E step 3: transmit the head command's
// text if the port just went in-flight, or continue a partially-sent
// command line from a prior poll.
func (p *Port) startStep() {
	if p.busy {
		if r, ok := p.queue.front(); ok && r.progress.cmdSent < len(r.cmd)+len(crlf) {
			p.sendCommandLine(r)
		}
		return
	}
	r, ok := p.queue.front()
	if !ok {
		return
	}
	p.beginCommand(r)
}

func (p *Port) beginCommand(r *record) {
	r.startMS = p.transport.NowMS(p.index)
	p.busy = true
	p.echoPending = p.echoIgnore
	p.suppressLines = false
	if r.txn != nil {
		switch r.txn.Type {
		case TxnLengthSend:
			r.progress.promptReceived = true
			p.suppressLines = true
		case TxnPromptSend, TxnPromptLineRx, TxnPromptBinaryRx:
			r.progress.promptMatched = 0
			r.progress.promptReceived = false
		}
	}
	p.sendCommandLine(r)
}

func (p *Port) sendCommandLine(r *record) {
	total := len(r.cmd) + len(crlf)
	for r.progress.cmdSent < total {
		var remaining []byte
		if r.progress.cmdSent < len(r.cmd) {
			remaining = r.cmd[r.progress.cmdSent:]
		} else {
			remaining = crlf[r.progress.cmdSent-len(r.cmd):]
		}
		n := p.writeAsMuchAsAccepted(remaining)
		if n == 0 {
			return
		}
		r.progress.cmdSent += n
	}
}

// advanceStep implements spec.md §4.E step 4: progress the outbound data
// phase of PromptSend/LengthSend transactions.
func (p *Port) advanceStep() {
	if !p.busy {
		return
	}
	r, ok := p.queue.front()
	if !ok {
		return
	}
	if r.progress.cmdSent < len(r.cmd)+len(crlf) {
		return
	}
	txn := r.txn
	if txn == nil {
		return
	}
	switch txn.Type {
	case TxnNone, TxnPromptLineRx, TxnPromptBinaryRx:
		return
	}
	if txn.Type == TxnPromptSend && !r.progress.promptReceived {
		return
	}

	if !r.progress.payloadStarted {
		p.suppressLines = true
		r.progress.payloadStarted = true
	}

	if r.progress.payloadSent < len(txn.Payload) {
		n := p.writeAsMuchAsAccepted(txn.Payload[r.progress.payloadSent:])
		r.progress.payloadSent += n
		if r.progress.payloadSent < len(txn.Payload) {
			return
		}
	}

	if len(txn.Terminator) > 0 && r.progress.terminatorSent < len(txn.Terminator) {
		n := p.writeAsMuchAsAccepted(txn.Terminator[r.progress.terminatorSent:])
		r.progress.terminatorSent += n
		if r.progress.terminatorSent < len(txn.Terminator) {
			return
		}
	}

	p.suppressLines = false
}

func (p *Port) writeAsMuchAsAccepted(data []byte) int {
	total := 0
	for total < len(data) {
		n, err := p.transport.Write(p.index, data[total:])
		if err != nil {
			p.logger.Warn("transport write error", logging.Field{Key: "error", Value: err})
			return total
		}
		if n == 0 {
			return total
		}
		total += n
	}
	return total
}

func needsPromptScan(t TxnType) bool {
	switch t {
	case TxnPromptSend, TxnPromptLineRx, TxnPromptBinaryRx:
		return true
	}
	return false
}

func promptPattern(txn *Txn) []byte {
	if txn.Type == TxnPromptSend && len(txn.Prompt) == 0 {
		return defaultPrompt
	}
	return txn.Prompt
}

// scanPrompt advances the per-record prompt match counter over chunk and
// returns the unconsumed remainder. On a full match it flips the record
// into line-rx or binary-rx mode as appropriate and, for binary-rx, resets
// the line parser and skips at most one trailing CRLF or LF.
func (p *Port) scanPrompt(r *record, chunk []byte) []byte {
	pattern := promptPattern(r.txn)
	if len(pattern) == 0 {
		return chunk
	}
	prog := &r.progress
	i := 0
	for ; i < len(chunk); i++ {
		c := chunk[i]
		if c == pattern[prog.promptMatched] {
			prog.promptMatched++
			if prog.promptMatched == len(pattern) {
				prog.promptReceived = true
				i++
				break
			}
		} else if c == pattern[0] {
			prog.promptMatched = 1
		} else {
			prog.promptMatched = 0
		}
	}
	rest := chunk[i:]
	if !prog.promptReceived {
		return rest
	}
	switch r.txn.Type {
	case TxnPromptLineRx:
		prog.lineRxMode = true
	case TxnPromptBinaryRx:
		prog.binaryRxMode = true
		p.parser.reset()
		if len(rest) > 0 && rest[0] == '\r' {
			rest = rest[1:]
		}
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	return rest
}

// handleLine implements spec.md §4.E's "Line handling" preconditions, in
// order.
func (p *Port) handleLine(line []byte, truncated bool) {
	var r *record
	if p.busy {
		r, _ = p.queue.front()
	}

	if r != nil {
		if p.suppressLines {
			return
		}
		if r.txn != nil && r.txn.Type == TxnPromptBinaryRx && !r.progress.promptReceived {
			return
		}
		if p.echoIgnore && p.echoPending && bytesEqual(line, r.cmd) {
			p.echoPending = false
			return
		}
		if r.progress.lineRxMode {
			if isTerm, success := classifyTerminal(line); isTerm {
				p.completeResponse(r, success, line)
			} else {
				p.appendResp(r, line, truncated)
			}
			return
		}
	}

	if p.urc.dispatch(line) {
		p.observer.URCDispatched(p.index)
		return
	}

	if r != nil {
		if isTerm, success := classifyTerminal(line); isTerm {
			p.completeResponse(r, success, line)
		} else {
			p.appendResp(r, line, truncated)
		}
		return
	}

	p.logger.Warn("line dropped: no in-flight command and no URC match", logging.Field{Key: "line", Value: string(line)})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// classifyTerminal recognizes the fixed terminal token set of spec.md §6.
func classifyTerminal(line []byte) (isTerminal, success bool) {
	s := string(line)
	if s == "OK" || s == "SEND OK" {
		return true, true
	}
	switch {
	case strings.HasPrefix(s, "ERROR"),
		strings.HasPrefix(s, "+CME ERROR"),
		strings.HasPrefix(s, "+CMS ERROR"),
		strings.HasPrefix(s, "SEND FAIL"):
		return true, false
	}
	return false, false
}

// appendResp copies line into resp followed by a single LF separator,
// truncating to leave resp_len <= capacity-1 (spec.md §3 invariant).
func (p *Port) appendResp(r *record, line []byte, truncatedLine bool) {
	maxLen := len(r.respBuf) - 1
	if maxLen < 0 {
		maxLen = 0
	}
	avail := maxLen - r.respLen
	if avail < 0 {
		avail = 0
	}
	truncated := truncatedLine
	n := len(line)
	if n > avail {
		n = avail
		truncated = true
	}
	if n > 0 {
		copy(r.respBuf[r.respLen:], line[:n])
		r.respLen += n
	}
	if r.respLen < maxLen {
		r.respBuf[r.respLen] = '\n'
		r.respLen++
	} else {
		truncated = true
	}
	r.resp = r.respBuf[:r.respLen]
	if truncated {
		p.logger.Warn("response buffer truncated")
	}
}

// completeResponse finalizes a success/failure terminal line: a failure
// line is appended to resp (subject to the same truncation rule as any
// other line), then a single trailing LF is stripped.
func (p *Port) completeResponse(r *record, success bool, termLine []byte) {
	if !success {
		p.appendResp(r, termLine, false)
	}
	if r.respLen > 0 && r.resp[r.respLen-1] == '\n' {
		r.resp = r.resp[:r.respLen-1]
		r.respLen--
	}
	r.success = success
	p.deliver(r)
}

// deliver fires the callback exactly once, then pops the queue and clears
// port state so the next record (if any) starts cleanly on the next poll.
func (p *Port) deliver(r *record) {
	if r.cb != nil {
		r.cb(r.success, r.resp, r.userArg)
	}
	if !r.success {
		p.lastErr = string(r.resp)
	}
	elapsed := p.transport.NowMS(p.index) - r.startMS
	p.observer.Completed(p.index, r.success, elapsed)
	p.queue.pop()
	p.busy = false
	p.echoPending = false
	p.suppressLines = false
}

// consumeBinaryRx implements the PromptBinaryRx binary-receive consumer of
// spec.md §4.E, routing raw bytes by fixed length or by terminator match.
// It returns any bytes left over after the transfer completes within this
// chunk (by design, ordinarily none).
func (p *Port) consumeBinaryRx(r *record, chunk []byte) []byte {
	txn := r.txn
	if txn.RxLen > 0 {
		return p.consumeBinaryRxByLength(r, chunk)
	}
	return p.consumeBinaryRxByTerminator(r, chunk)
}

func (p *Port) consumeBinaryRxByLength(r *record, chunk []byte) []byte {
	txn := r.txn
	remaining := txn.RxLen - r.progress.rxBinaryReceived
	capRemaining := len(r.respBuf) - r.respLen
	n := len(chunk)
	if n > remaining {
		n = remaining
	}
	if n > capRemaining {
		n = capRemaining
	}
	if n > 0 {
		copy(r.respBuf[r.respLen:], chunk[:n])
		r.respLen += n
		r.resp = r.respBuf[:r.respLen]
		r.progress.rxBinaryReceived += n
	}
	leftover := chunk[n:]
	if r.progress.rxBinaryReceived >= txn.RxLen {
		r.success = true
		p.deliver(r)
		return leftover
	}
	return nil
}

func (p *Port) consumeBinaryRxByTerminator(r *record, chunk []byte) []byte {
	term := r.txn.RxTerminator
	prog := &r.progress
	for idx, c := range chunk {
		if c == term[prog.rxTermMatched] {
			prog.rxTermMatched++
			if prog.rxTermMatched == len(term) {
				r.success = true
				p.deliver(r)
				return chunk[idx+1:]
			}
			continue
		}
		if prog.rxTermMatched > 0 {
			p.appendBinary(r, term[:prog.rxTermMatched])
			prog.rxTermMatched = 0
		}
		if c == term[0] {
			prog.rxTermMatched = 1
		} else {
			p.appendBinary(r, chunk[idx:idx+1])
		}
	}
	return nil
}

func (p *Port) appendBinary(r *record, data []byte) {
	avail := len(r.respBuf) - r.respLen
	n := len(data)
	if n > avail {
		n = avail
		p.logger.Warn("binary receive buffer truncated")
	}
	if n <= 0 {
		return
	}
	copy(r.respBuf[r.respLen:], data[:n])
	r.respLen += n
	r.resp = r.respBuf[:r.respLen]
}
