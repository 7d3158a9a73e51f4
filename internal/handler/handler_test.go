package handler

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/proxylab/cacheproxy/internal/cache"
)

// fixedOriginServer accepts TCP connections and writes a fixed HTTP/1.0
// response to each, counting how many connections it served.
type fixedOriginServer struct {
	ln    net.Listener
	hits  chan struct{}
	reply string
}

func newFixedOriginServer(t *testing.T, reply string) *fixedOriginServer {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fixedOriginServer{ln: ln, hits: make(chan struct{}, 16), reply: reply}
	go s.serve()
	return s
}

func (s *fixedOriginServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.hits <- struct{}{}
		go func() {
			defer conn.Close()
			bufio.NewReader(conn).ReadString('\n')
			conn.Write([]byte(s.reply))
		}()
	}
}

func (s *fixedOriginServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fixedOriginServer) close() { s.ln.Close() }

// runRequest sends raw to a fresh Handler connection and returns the
// full response written back to the client.
func runRequest(t *testing.T, h *Handler, raw string) string {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(context.Background(), serverSide, 0)
	}()

	if _, err := clientSide.Write([]byte(raw)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := clientSide.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	clientSide.Close()
	<-done
	return out.String()
}

// TestServeHitAfterMiss verifies that the first request misses and is
// fetched from the origin, while the second identical request is served
// from cache without a second origin connection.
func TestServeHitAfterMiss(t *testing.T) {
	origin := newFixedOriginServer(t, "HTTP/1.0 200 OK\r\nContent-Length: 3\r\n\r\nabc")
	defer origin.close()

	c := cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize)
	h := New(c)

	uri := fmt.Sprintf("http://127.0.0.1:%d/a", origin.port())
	raw := fmt.Sprintf("GET %s HTTP/1.0\r\n\r\n", uri)

	first := runRequest(t, h, raw)
	if !strings.Contains(first, "abc") {
		t.Fatalf("first response missing body: %q", first)
	}
	select {
	case <-origin.hits:
	default:
		t.Fatal("origin never received the first request")
	}

	if c.Count() != 1 {
		t.Fatalf("got cache.Count()=%d, want 1", c.Count())
	}

	second := runRequest(t, h, raw)
	if !strings.Contains(second, "abc") {
		t.Fatalf("second response missing body: %q", second)
	}
	select {
	case <-origin.hits:
		t.Fatal("origin received a second connection; expected a cache hit")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestServeMethodNotImplemented verifies a non-GET method yields 501.
func TestServeMethodNotImplemented(t *testing.T) {
	c := cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize)
	h := New(c)

	resp := runRequest(t, h, "POST http://example.test/foo HTTP/1.0\r\n\r\n")
	if !strings.Contains(resp, "501") {
		t.Fatalf("got %q, want 501 status", resp)
	}
}

// TestServeBadURIScheme verifies a non-http scheme yields 400.
func TestServeBadURIScheme(t *testing.T) {
	c := cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize)
	h := New(c)

	resp := runRequest(t, h, "GET ftp://host/ HTTP/1.0\r\n\r\n")
	if !strings.Contains(resp, "400") {
		t.Fatalf("got %q, want 400 status", resp)
	}
}

// TestServeBadHeader verifies a header line missing a colon yields 400.
func TestServeBadHeader(t *testing.T) {
	c := cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize)
	h := New(c)

	resp := runRequest(t, h, "GET http://x/ HTTP/1.0\r\nFoo\r\n\r\n")
	if !strings.Contains(resp, "400") || !strings.Contains(resp, "Bad header") {
		t.Fatalf("got %q, want 400 mentioning Bad header", resp)
	}
}

// TestServeDNSFailure verifies a host that cannot be resolved yields the
// synthesized 1000 status.
func TestServeDNSFailure(t *testing.T) {
	c := cache.New(cache.DefaultMaxCacheSize, cache.DefaultMaxObjectSize)
	h := New(c)

	resp := runRequest(t, h, "GET http://nonexistent.invalid/ HTTP/1.0\r\n\r\n")
	if !strings.Contains(resp, "1000") {
		t.Fatalf("got %q, want 1000 status", resp)
	}
}
