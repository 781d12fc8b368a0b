package engine

// Observer receives engine lifecycle events for diagnostics/metrics. It is
// called synchronously from inside Poll, on the same goroutine, so an
// Observer implementation must not block or call back into the Engine.
// elapsedMS on Completed/Timeout is the command's start_ms-to-terminal
// duration, computed from the same NowMS clock the timeout check uses. A
// nil Observer (the default) performs no observation and costs nothing on
// the hot path.
type Observer interface {
	Submitted(port int)
	Completed(port int, success bool, elapsedMS uint32)
	Timeout(port int, elapsedMS uint32)
	URCDispatched(port int)
}

type noopObserver struct{}

func (noopObserver) Submitted(port int)                                {}
func (noopObserver) Completed(port int, success bool, elapsedMS uint32) {}
func (noopObserver) Timeout(port int, elapsedMS uint32)                {}
func (noopObserver) URCDispatched(port int)                             {}
