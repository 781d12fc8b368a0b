package engine

import "errors"

var (
	ErrInvalidPort = errors.New("engine: invalid port index")
	ErrNilCommand  = errors.New("engine: command is empty")
	ErrQueueFull   = errors.New("engine: command queue is full")
	ErrInvalidTxn  = errors.New("engine: transaction descriptor is invalid")
)

// Submit enqueues a plain command with the port's default timeout. It is
// equivalent to SubmitEx(port, cmd, defaultTimeoutMS, cb, userArg).
func (e *Engine) Submit(port int, cmd string, cb Callback, userArg any) error {
	return e.SubmitEx(port, cmd, 0, cb, userArg)
}

// SubmitEx enqueues a plain command with an explicit timeout. A zero
// timeoutMS falls back to the port's configured DefaultTimeoutMS.
func (e *Engine) SubmitEx(port int, cmd string, timeoutMS uint32, cb Callback, userArg any) error {
	return e.SubmitTxn(port, cmd, timeoutMS, nil, cb, userArg)
}

// SubmitTxn enqueues a command together with an optional transaction
// descriptor (PromptSend/LengthSend/PromptLineRx/PromptBinaryRx). txn may
// be nil for TxnNone. The command text is copied into the queue's backing
// buffer; txn itself is retained by reference and must outlive the
// command's lifetime in the queue.
//
// Submission never performs transport I/O: it only reserves a queue slot
// and returns. The command is transmitted by Engine.Poll's Start step on
// a later poll, which is what keeps cross-port send order determined by
// poll's index-order traversal rather than by submission call order.
func (e *Engine) SubmitTxn(port int, cmd string, timeoutMS uint32, txn *Txn, cb Callback, userArg any) error {
	if port < 0 || port >= len(e.ports) {
		return ErrInvalidPort
	}
	if len(cmd) == 0 {
		return ErrNilCommand
	}
	if err := validateTxn(txn); err != nil {
		return err
	}
	p := e.ports[port]
	r, ok := p.queue.push()
	if !ok {
		return ErrQueueFull
	}

	n := len(cmd)
	if n > len(r.cmdBuf) {
		n = len(r.cmdBuf)
		p.logger.Warn("command text truncated to fit buffer")
	}
	copy(r.cmdBuf[:n], cmd[:n])
	r.cmd = r.cmdBuf[:n]

	if timeoutMS == 0 {
		timeoutMS = p.cfg.DefaultTimeoutMS
	}
	r.timeoutMS = timeoutMS
	r.cb = cb
	r.userArg = userArg
	r.txn = txn

	p.observer.Submitted(port)
	return nil
}

func validateTxn(txn *Txn) error {
	if txn == nil {
		return nil
	}
	switch txn.Type {
	case TxnNone:
		return nil
	case TxnPromptSend, TxnLengthSend:
		return nil
	case TxnPromptLineRx:
		return nil
	case TxnPromptBinaryRx:
		hasLen := txn.RxLen > 0
		hasTerm := len(txn.RxTerminator) > 0
		if hasLen == hasTerm {
			return ErrInvalidTxn
		}
		return nil
	default:
		return ErrInvalidTxn
	}
}
