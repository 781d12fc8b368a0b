package netbridge

import (
	"testing"
	"time"
)

func TestNewSetsAddrAndDialTimeout(t *testing.T) {
	tr := New("127.0.0.1:4000", 2*time.Second, nil)
	if tr.addr != "127.0.0.1:4000" {
		t.Fatalf("addr = %q, want %q", tr.addr, "127.0.0.1:4000")
	}
	if tr.dialTO != 2*time.Second {
		t.Fatalf("dialTO = %v, want %v", tr.dialTO, 2*time.Second)
	}
}

func TestActiveConnNilBeforeInit(t *testing.T) {
	tr := New("127.0.0.1:4000", time.Second, nil)
	if tr.activeConn() != nil {
		t.Fatal("expected nil conn before Init")
	}
}

func TestReadWriteNoopWithoutConnection(t *testing.T) {
	tr := New("127.0.0.1:4000", time.Second, nil)
	buf := make([]byte, 16)
	n, err := tr.Read(0, buf)
	if n != 0 || err != nil {
		t.Fatalf("Read() = (%d, %v), want (0, nil) with no connection", n, err)
	}
	n, err = tr.Write(0, []byte("AT\r\n"))
	if n != 0 || err != nil {
		t.Fatalf("Write() = (%d, %v), want (0, nil) with no connection", n, err)
	}
}

func TestNowMSIsMonotonicallyNonDecreasing(t *testing.T) {
	tr := New("127.0.0.1:4000", time.Second, nil)
	first := tr.NowMS(0)
	time.Sleep(time.Millisecond)
	second := tr.NowMS(0)
	if second < first {
		t.Fatalf("NowMS went backwards: %d then %d", first, second)
	}
}
