package worker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/proxylab/cacheproxy/internal/cache"
	"github.com/proxylab/cacheproxy/internal/handler"
	"github.com/proxylab/cacheproxy/internal/queue"
)

// TestPoolServesQueuedConnections verifies an Acceptor feeding a Pool
// through the queue results in every accepted connection being served,
// end to end.
func TestPoolServesQueuedConnections(t *testing.T) {
	origin, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen origin: %v", err)
	}
	defer origin.Close()
	go func() {
		for {
			conn, err := origin.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				conn.Read(buf)
				conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok"))
			}()
		}
	}()

	proxyLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen proxy: %v", err)
	}
	defer proxyLn.Close()

	q := queue.New(4)
	h := handler.New(cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize))
	pool := New(2, q, h)
	acc := NewAcceptor(proxyLn, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pool.Run(ctx)
	go acc.Run(ctx)

	conn, err := net.Dial("tcp4", proxyLn.Addr().String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	uri := fmt.Sprintf("http://%s/a", origin.Addr().String())
	if _, err := conn.Write([]byte(fmt.Sprintf("GET %s HTTP/1.0\r\n\r\n", uri))); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	if !strings.Contains(string(buf[:n]), "ok") {
		t.Fatalf("got %q, want body containing ok", string(buf[:n]))
	}
}

// TestAcceptorStopsOnContextCancel verifies Run returns once its context
// is done and the listener is closed out from under it.
func TestAcceptorStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	q := queue.New(4)
	acc := NewAcceptor(ln, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acc.Run(ctx) }()

	cancel()
	ln.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("got err=%v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after cancel")
	}
}
