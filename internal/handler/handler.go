// Package handler implements the per-connection request state machine a
// worker runs once per accepted connection: read request, rewrite
// headers, probe the cache, fetch from cache or origin, stream the
// reply, update the cache.
package handler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"go.opentelemetry.io/otel/trace"

	"github.com/proxylab/cacheproxy/internal/cache"
	"github.com/proxylab/cacheproxy/internal/faultrecovery"
	"github.com/proxylab/cacheproxy/internal/headerpolicy"
	"github.com/proxylab/cacheproxy/internal/httpparse"
	"github.com/proxylab/cacheproxy/internal/logging"
	"github.com/proxylab/cacheproxy/internal/metrics"
	"github.com/proxylab/cacheproxy/internal/upstream"
)

// Handler holds no per-connection state, only references to the shared
// cache and dial strategy, so a single Handler is safe to call
// concurrently from every worker's loop (internal/worker).
type Handler struct {
	cache        *cache.Cache
	dialStrategy upstream.DialStrategy
	metrics      *metrics.Metrics
	logger       *logging.Logger
}

// New constructs a Handler backed by the shared cache. Observability is
// optional: WithMetrics/WithLogger attach it without changing the zero
// value other callers (tests, in particular) rely on.
func New(c *cache.Cache) *Handler {
	return &Handler{cache: c}
}

// WithMetrics attaches Prometheus instrumentation and returns h.
func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithLogger attaches structured, trace-correlated logging and returns h.
func (h *Handler) WithLogger(l *logging.Logger) *Handler {
	h.logger = l
	return h
}

// errorBody renders the synthesized HTML error body sent alongside an
// error status line.
func errorBody(errnum, shortmsg, longmsg, cause string) string {
	return fmt.Sprintf(
		"<html><title>Tiny Error</title><body bgcolor=\"ffffff\">\r\n"+
			"%s: %s\r\n<p>%s: %s\r\n<hr><em>The Tiny Web server</em>\r\n",
		errnum, shortmsg, longmsg, cause)
}

// clientError writes a synthesized HTTP/1.0 error response: status line,
// Content-type, Content-length, then body.
func clientError(w *bufio.Writer, errnum, shortmsg, longmsg, cause string) error {
	body := errorBody(errnum, shortmsg, longmsg, cause)
	if _, err := fmt.Fprintf(w, "HTTP/1.0 %s %s\r\n", errnum, shortmsg); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "Content-type: text/html\r\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	if _, err := w.WriteString(body); err != nil {
		return err
	}
	return w.Flush()
}

// Serve runs the request state machine over client until the response (or
// an error reply) has been fully written, then returns. Serve never
// panics on a peer-induced fault: transport errors are classified by
// internal/faultrecovery and simply end the function, returning control to
// the worker loop. workerID identifies the calling worker and is attached
// to every log line Serve and its helpers emit.
func (h *Handler) Serve(ctx context.Context, client net.Conn, workerID int) {
	logger := h.logger
	if logger != nil {
		logger = logger.WithFields(slog.Int("worker_id", workerID))
	}

	if logger != nil {
		var span trace.Span
		ctx, span = logger.StartSpan(ctx, "handler.Serve")
		defer span.End()
	}

	outcome := "error"
	if h.metrics != nil {
		end := h.metrics.ConnectionStarted()
		defer func() { end(outcome) }()
	}

	r := bufio.NewReader(client)
	w := bufio.NewWriter(client)

	// EOF before any byte is read means the client disconnected silently.
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		outcome = "client_disconnect"
		return
	}

	// PARSE
	rl, err := httpparse.ParseRequestLine(line)
	if err != nil {
		clientError(w, "400", "Bad Request", "Missing uri", "")
		outcome = "bad_request"
		return
	}
	if rl.Method != "GET" {
		clientError(w, "501", "Not Implemented", "Does not implement this method", rl.Method)
		outcome = "not_implemented"
		return
	}
	if rl.URI == "" {
		clientError(w, "400", "Bad Request", "Missing uri", rl.URI)
		outcome = "bad_request"
		return
	}
	if rl.Version != "HTTP/1.0" && rl.Version != "HTTP/1.1" {
		clientError(w, "400", "Bad Request", "Version not match", rl.Version)
		outcome = "bad_request"
		return
	}
	uri, err := httpparse.ParseURI(rl.URI)
	if err != nil {
		clientError(w, "400", "Bad Request", "Malformed uri", rl.URI)
		outcome = "bad_request"
		return
	}
	if _, err := r.Peek(1); err != nil {
		clientError(w, "400", "Bad Request", "Incomplete request", rl.URI)
		outcome = "bad_request"
		return
	}
	headers, err := httpparse.ParseHeaders(r)
	if err != nil {
		clientError(w, "400", "Bad Request", "Bad header", rl.URI)
		outcome = "bad_request"
		return
	}

	// HEADER REWRITE
	hs := headerpolicy.NewSet()
	for _, hdr := range headers {
		if headerpolicy.NeedHeader(hdr.Name, hs) {
			hs.Append(hdr.Name, hdr.Value)
		}
	}
	headerpolicy.ApplyCanonical(hs, uri.Host)

	// CACHE_LOOKUP
	cacheKey := rl.URI
	hit := h.cache.Probe(cacheKey)
	if h.metrics != nil {
		h.metrics.RecordCacheHit(hit)
	}
	if hit {
		outcome = "cache_hit"
		h.hitReply(ctx, logger, w, cacheKey)
		return
	}
	outcome = "cache_miss"
	h.missFetch(ctx, logger, w, cacheKey, uri, hs)
}

// hitReply fetches the cached body into a MaxObjectSize buffer and writes
// it to the client in full.
func (h *Handler) hitReply(ctx context.Context, logger *logging.Logger, w *bufio.Writer, cacheKey string) {
	buf := make([]byte, h.cache.MaxObjectSize())
	n, ok := h.cache.Fetch(cacheKey, buf)
	if !ok {
		// The item was evicted between Probe and Fetch. The handler does
		// not retry the cache; it simply has nothing to relay. A
		// well-behaved client will retry the request, producing a fresh
		// miss.
		return
	}
	if err := upstream.WriteAll(w, buf[:n]); err != nil {
		h.recordFault(ctx, logger, err)
		return
	}
	w.Flush()
}

// missFetch dials the origin, forwards a rewritten request, relays the
// response, and opportunistically caches it.
func (h *Handler) missFetch(ctx context.Context, logger *logging.Logger, w *bufio.Writer, cacheKey string, uri httpparse.ParsedURI, hs *headerpolicy.Set) {
	upConn, err := upstream.Dial(ctx, uri.Host, uri.Port, h.dialStrategy)
	if err != nil {
		clientError(w, "1000", "DNS failed", "DNS failed", uri.Host)
		if h.metrics != nil {
			h.metrics.RecordUpstreamError("dns")
		}
		return
	}
	defer upConn.Close()

	if err := writeUpstreamRequest(upConn, uri.Path, hs); err != nil {
		h.recordFault(ctx, logger, err)
		return
	}

	body, total, err := relayResponse(w, upConn, h.cache.MaxObjectSize())
	if err != nil {
		h.recordFault(ctx, logger, err)
		return
	}

	if total <= h.cache.MaxObjectSize() {
		if total+h.cache.TotalSize() <= h.cache.MaxCacheSize() {
			h.cache.Insert(cacheKey, body, total)
		} else {
			h.cache.EvictAndInsert(cacheKey, body, total)
			if h.metrics != nil {
				h.metrics.RecordEviction()
			}
		}
		if h.metrics != nil {
			h.metrics.SetCacheBytes(h.cache.TotalSize())
		}
	}
}

// recordFault classifies a transport error, records it as a metric, and
// logs it as a recovered fault — the connection is still closed by the
// worker loop, but the operator sees why.
func (h *Handler) recordFault(ctx context.Context, logger *logging.Logger, err error) {
	fault := faultrecovery.Classify(err)
	if fault == nil {
		return
	}
	label := clientFaultLabel(fault.Kind)
	if h.metrics != nil {
		h.metrics.RecordUpstreamError(label)
	}
	if logger != nil {
		logger.Warn(ctx, "connection fault recovered",
			slog.String("kind", label),
			slog.String("error", fault.Error()))
	}
}

// clientFaultLabel renders a Kind as a Prometheus label value.
func clientFaultLabel(kind faultrecovery.Kind) string {
	switch kind {
	case faultrecovery.KindConnReset:
		return "conn_reset"
	case faultrecovery.KindBrokenPipe:
		return "broken_pipe"
	case faultrecovery.KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// writeUpstreamRequest writes the rewritten GET request line, forwarded
// headers, and terminating blank line to the upstream connection, in
// fixed wire order.
func writeUpstreamRequest(upConn net.Conn, path string, hs *headerpolicy.Set) error {
	w := bufio.NewWriter(upConn)
	if _, err := fmt.Fprintf(w, "GET %s HTTP/1.0\r\n", path); err != nil {
		return err
	}
	for _, f := range hs.Fields() {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// cappedBuffer accumulates up to max bytes written to it and silently
// discards the rest, while still reporting every byte as written so it
// composes with io.MultiWriter.
type cappedBuffer struct {
	buf []byte
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if len(c.buf) < c.max {
		room := c.max - len(c.buf)
		if room > len(p) {
			room = len(p)
		}
		c.buf = append(c.buf, p[:room]...)
	}
	return len(p), nil
}

// relayResponse streams the upstream response to the client while
// accumulating up to maxObjectSize bytes for a possible cache insert. It
// returns the accumulated (possibly truncated) body, the true total byte
// count, and any I/O error.
func relayResponse(w *bufio.Writer, upConn net.Conn, maxObjectSize int) ([]byte, int, error) {
	r := bufio.NewReader(upConn)
	capped := &cappedBuffer{max: maxObjectSize}

	total, err := upstream.CopyBody(io.MultiWriter(w, capped), r)
	if err != nil {
		return capped.buf, int(total), err
	}
	if err := w.Flush(); err != nil {
		return capped.buf, int(total), err
	}
	return capped.buf, int(total), nil
}
