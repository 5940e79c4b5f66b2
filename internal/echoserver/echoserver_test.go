package echoserver

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func listen(t *testing.T, network string, opts Options) *Server {
	t.Helper()
	srv, err := Listen(network, "127.0.0.1:0", opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestTCPEcho(t *testing.T) {
	srv := listen(t, "tcp", Options{})
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	msg := []byte("ping\n")
	for range 3 {
		if _, err := conn.Write(msg); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, len(msg))
		if _, err := io.ReadFull(conn, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("echo = %q", got)
		}
	}
	if accepted, echoed, _ := srv.Stats(); accepted != 1 || echoed < 3 {
		t.Errorf("stats = %d accepted, %d echoed", accepted, echoed)
	}
}

func TestTCPCorrupt(t *testing.T) {
	srv := listen(t, "tcp", Options{Corrupt: true})
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	conn.Write([]byte{0x00, '\n'})
	got := make([]byte, 2)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xff || got[1] != '\n' {
		t.Errorf("corrupted echo = %v", got)
	}
}

func TestUDPEchoAndDrop(t *testing.T) {
	srv := listen(t, "udp", Options{})
	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	conn.Write([]byte("datagram\n"))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "datagram\n" {
		t.Errorf("echo = %q", buf[:n])
	}

	lossy := listen(t, "udp", Options{DropRate: 1})
	lc, err := net.Dial("udp", lossy.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer lc.Close()
	lc.Write([]byte("x\n"))
	lc.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := lc.Read(buf); err == nil {
		t.Error("datagram echoed despite drop rate 1")
	}
	if _, echoed, dropped := lossy.Stats(); echoed != 0 || dropped != 1 {
		t.Errorf("echoed=%d dropped=%d", echoed, dropped)
	}
}

func TestCloseInterruptsDelay(t *testing.T) {
	srv, err := Listen("tcp", "127.0.0.1:0", Options{Delay: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("slow\n"))
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a delayed echo")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestListenRejects(t *testing.T) {
	if _, err := Listen("unix", "/tmp/x", Options{}); err == nil {
		t.Error("unsupported network accepted")
	}
	if _, err := Listen("udp", "127.0.0.1:0", Options{DropRate: 2}); err == nil {
		t.Error("drop rate 2 accepted")
	}
}
