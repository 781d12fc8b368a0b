package engine

import (
	"testing"

	"github.com/atcortex/atengine/internal/transport/loopback"
)

func newTestEngine(t *testing.T, cfg PortConfig) (*Engine, *loopback.Transport) {
	t.Helper()
	lb := loopback.New(1)
	e, err := New(lb, []PortConfig{cfg}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, lb
}

func defaultCfg() PortConfig {
	return PortConfig{
		MaxQueue:         4,
		MaxCmdLen:        64,
		MaxRespLen:       256,
		MaxLineLen:       128,
		MaxURCHandlers:   4,
		DefaultTimeoutMS: 1000,
	}
}

func pollUntilDone(t *testing.T, e *Engine, done *bool, maxIters int) {
	t.Helper()
	for i := 0; i < maxIters && !*done; i++ {
		e.Poll()
	}
	if !*done {
		t.Fatalf("callback did not fire within %d polls", maxIters)
	}
}

func TestSubmitPlainCommandSuccess(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	var gotSuccess bool
	var gotResp string
	done := false
	if err := e.Submit(0, "AT", func(success bool, resp []byte, userArg any) {
		gotSuccess = success
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if sent := string(lb.Sent(0)); sent != "" {
		t.Fatalf("expected Submit to perform no I/O, but %q was already sent", sent)
	}

	e.Poll()
	if sent := string(lb.Sent(0)); sent != "AT\r\n" {
		t.Fatalf("unexpected command line sent: %q", sent)
	}

	lb.Feed(0, []byte("OK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if !gotSuccess {
		t.Fatalf("expected success")
	}
	if gotResp != "" {
		t.Fatalf("expected empty response for bare OK, got %q", gotResp)
	}
}

func TestSubmitCommandWithInfoLines(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	var gotResp string
	done := false
	if err := e.Submit(0, "AT+CSQ", func(success bool, resp []byte, userArg any) {
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, []byte("+CSQ: 20,99\r\nOK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if gotResp != "+CSQ: 20,99" {
		t.Fatalf("unexpected response: %q", gotResp)
	}
}

func TestSubmitCommandFailureAppendsErrorLine(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	var gotSuccess bool
	var gotResp string
	done := false
	if err := e.Submit(0, "AT+X", func(success bool, resp []byte, userArg any) {
		gotSuccess = success
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, []byte("+CME ERROR: 3\r\n"))
	pollUntilDone(t, e, &done, 4)

	if gotSuccess {
		t.Fatalf("expected failure")
	}
	if gotResp != "+CME ERROR: 3" {
		t.Fatalf("unexpected response: %q", gotResp)
	}
}

func TestEchoIgnoredWhenConfigured(t *testing.T) {
	cfg := defaultCfg()
	cfg.EchoIgnore = true
	e, lb := newTestEngine(t, cfg)

	done := false
	var gotResp string
	if err := e.Submit(0, "AT", func(success bool, resp []byte, userArg any) {
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, []byte("AT\r\nOK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if gotResp != "" {
		t.Fatalf("expected echoed command line to be dropped, got %q", gotResp)
	}
}

func TestTimeoutFiresTIMEOUTCallback(t *testing.T) {
	cfg := defaultCfg()
	cfg.DefaultTimeoutMS = 50
	e, lb := newTestEngine(t, cfg)

	done := false
	var gotSuccess bool
	var gotResp string
	if err := e.Submit(0, "AT", func(success bool, resp []byte, userArg any) {
		gotSuccess = success
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Advance(51)
	pollUntilDone(t, e, &done, 4)

	if gotSuccess {
		t.Fatalf("expected timeout failure")
	}
	if gotResp != "TIMEOUT" {
		t.Fatalf("expected TIMEOUT response, got %q", gotResp)
	}
}

func TestURCDispatchedWhileIdle(t *testing.T) {
	e, _ := newTestEngine(t, defaultCfg())

	var got string
	if err := e.RegisterURC(0, "+CREG:", func(line []byte, userArg any) {
		got = string(line)
	}, nil); err != nil {
		t.Fatalf("RegisterURC: %v", err)
	}

	p := e.ports[0]
	p.processChunk([]byte("+CREG: 1,1\r\n"))

	if got != "+CREG: 1,1" {
		t.Fatalf("unexpected URC line: %q", got)
	}
}

func TestURCInterleavedWithResponse(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	var urcLine string
	if err := e.RegisterURC(0, "+CREG:", func(line []byte, userArg any) {
		urcLine = string(line)
	}, nil); err != nil {
		t.Fatalf("RegisterURC: %v", err)
	}

	done := false
	var gotResp string
	if err := e.Submit(0, "AT+CSQ", func(success bool, resp []byte, userArg any) {
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, []byte("+CSQ: 20,99\r\n+CREG: 1,1\r\nOK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if urcLine != "+CREG: 1,1" {
		t.Fatalf("URC not dispatched: %q", urcLine)
	}
	if gotResp != "+CSQ: 20,99" {
		t.Fatalf("unexpected response: %q", gotResp)
	}
}

func TestPromptSendPayload(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	done := false
	var gotSuccess bool
	txn := &Txn{Type: TxnPromptSend, Payload: []byte("hello"), Terminator: []byte{0x1a}}
	if err := e.SubmitTxn(0, "AT+CMGS=5", 0, txn, func(success bool, resp []byte, userArg any) {
		gotSuccess = success
		done = true
	}, nil); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	e.Poll()
	if sent := string(lb.Sent(0)); sent != "AT+CMGS=5\r\n" {
		t.Fatalf("unexpected command line sent: %q", sent)
	}

	lb.Feed(0, []byte("> "))
	e.Poll()
	if sent := string(lb.Sent(0)); sent != "hello\x1a" {
		t.Fatalf("unexpected payload sent: %q", sent)
	}

	lb.Feed(0, []byte("\r\nOK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if !gotSuccess {
		t.Fatalf("expected success")
	}
}

func TestLengthSendPayloadSentImmediately(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	done := false
	txn := &Txn{Type: TxnLengthSend, Payload: []byte("DATA")}
	if err := e.SubmitTxn(0, "AT+QISEND=4", 0, txn, func(success bool, resp []byte, userArg any) {
		done = true
	}, nil); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	e.Poll()

	sent := string(lb.Sent(0))
	if sent != "AT+QISEND=4\r\nDATA" {
		t.Fatalf("unexpected send sequence: %q", sent)
	}

	lb.Feed(0, []byte("SEND OK\r\n"))
	pollUntilDone(t, e, &done, 4)
}

func TestPromptBinaryRxByLength(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	done := false
	var gotResp []byte
	txn := &Txn{Type: TxnPromptBinaryRx, Prompt: []byte("> "), RxLen: 4}
	if err := e.SubmitTxn(0, "AT+READ=4", 0, txn, func(success bool, resp []byte, userArg any) {
		gotResp = append([]byte(nil), resp...)
		done = true
	}, nil); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, append([]byte("> \r\n"), 0xDE, 0xAD, 0xBE, 0xEF))
	pollUntilDone(t, e, &done, 4)

	if string(gotResp) != "\xDE\xAD\xBE\xEF" {
		t.Fatalf("unexpected binary payload: % x", gotResp)
	}
}

func TestPromptBinaryRxByTerminator(t *testing.T) {
	e, lb := newTestEngine(t, defaultCfg())

	done := false
	var gotResp []byte
	txn := &Txn{Type: TxnPromptBinaryRx, Prompt: []byte("> "), RxTerminator: []byte("END_DATA")}
	if err := e.SubmitTxn(0, "AT+READRAW", 0, txn, func(success bool, resp []byte, userArg any) {
		gotResp = append([]byte(nil), resp...)
		done = true
	}, nil); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, append([]byte("> "), []byte("RAW_\xDE\xAD\xBE\xEFEND_DATA")...))
	pollUntilDone(t, e, &done, 4)

	if string(gotResp) != "RAW_\xDE\xAD\xBE\xEF" {
		t.Fatalf("unexpected binary payload: % x", gotResp)
	}
}

// orderTransport wraps a loopback.Transport and records the port index of
// every Write, so a test can observe the order in which ports are serviced.
type orderTransport struct {
	*loopback.Transport
	writes []int
}

func (o *orderTransport) Write(port int, buf []byte) (int, error) {
	o.writes = append(o.writes, port)
	return o.Transport.Write(port, buf)
}

func TestPollSendsPortsInIndexOrderRegardlessOfSubmitOrder(t *testing.T) {
	lb := loopback.New(2)
	ot := &orderTransport{Transport: lb}
	e, err := New(ot, []PortConfig{defaultCfg(), defaultCfg()}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Submit to port 1 before port 0, so call order is the reverse of
	// index order; Poll must still service port 0 first.
	if err := e.Submit(1, "AT+ONE", func(bool, []byte, any) {}, nil); err != nil {
		t.Fatalf("Submit port 1: %v", err)
	}
	if err := e.Submit(0, "AT+ZERO", func(bool, []byte, any) {}, nil); err != nil {
		t.Fatalf("Submit port 0: %v", err)
	}

	if sent := string(lb.Sent(0)); sent != "" {
		t.Fatalf("expected no I/O before Poll, got %q on port 0", sent)
	}
	if sent := string(lb.Sent(1)); sent != "" {
		t.Fatalf("expected no I/O before Poll, got %q on port 1", sent)
	}

	e.Poll()

	if sent := string(lb.Sent(0)); sent != "AT+ZERO\r\n" {
		t.Fatalf("unexpected port 0 send: %q", sent)
	}
	if sent := string(lb.Sent(1)); sent != "AT+ONE\r\n" {
		t.Fatalf("unexpected port 1 send: %q", sent)
	}

	lastPort0, firstPort1 := -1, -1
	for i, port := range ot.writes {
		if port == 0 {
			lastPort0 = i
		}
		if port == 1 && firstPort1 < 0 {
			firstPort1 = i
		}
	}
	if lastPort0 < 0 || firstPort1 < 0 || lastPort0 > firstPort1 {
		t.Fatalf("expected every port 0 write before any port 1 write, got write order %v", ot.writes)
	}
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxQueue = 1
	e, _ := newTestEngine(t, cfg)

	if err := e.Submit(0, "AT", func(bool, []byte, any) {}, nil); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := e.Submit(0, "AT", func(bool, []byte, any) {}, nil); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSubmitTxnRejectsBothRxLenAndRxTerminator(t *testing.T) {
	e, _ := newTestEngine(t, defaultCfg())
	txn := &Txn{Type: TxnPromptBinaryRx, RxLen: 4, RxTerminator: []byte("X")}
	if err := e.SubmitTxn(0, "AT", 0, txn, nil, nil); err != ErrInvalidTxn {
		t.Fatalf("expected ErrInvalidTxn, got %v", err)
	}
}

func TestResponseBufferTruncatesAndStripsTrailingLF(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxRespLen = 8
	e, lb := newTestEngine(t, cfg)

	done := false
	var gotResp string
	if err := e.Submit(0, "AT+L", func(success bool, resp []byte, userArg any) {
		gotResp = string(resp)
		done = true
	}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Poll()
	lb.Sent(0)

	lb.Feed(0, []byte("ABCDEFGHIJKL\r\nOK\r\n"))
	pollUntilDone(t, e, &done, 4)

	if len(gotResp) >= cfg.MaxRespLen {
		t.Fatalf("response not truncated to capacity: %q", gotResp)
	}
	if gotResp != "ABCDEFG" {
		t.Fatalf("expected the first %d line bytes with no trailing LF, got %q", cfg.MaxRespLen-1, gotResp)
	}
}
