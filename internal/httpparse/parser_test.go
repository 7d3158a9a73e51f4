package httpparse

import (
	"bufio"
	"strings"
	"testing"
)

// TestParseRequestLine verifies all three fields are required.
func TestParseRequestLine(t *testing.T) {
	rl, err := ParseRequestLine("GET http://example.test/a HTTP/1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rl.Method != "GET" || rl.URI != "http://example.test/a" || rl.Version != "HTTP/1.0" {
		t.Errorf("got %+v", rl)
	}

	if _, err := ParseRequestLine("GET /foo"); err == nil {
		t.Error("expected error for missing version field")
	}
}

// TestParseURIDefaults verifies boundary behavior: missing port defaults
// to 80, missing path defaults to "/".
func TestParseURIDefaults(t *testing.T) {
	u, err := ParseURI("http://example.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Host != "example.test" || u.Port != 80 || u.Path != "/" {
		t.Errorf("got %+v", u)
	}
}

// TestParseURIWithPortAndPath verifies explicit port/path parsing.
func TestParseURIWithPortAndPath(t *testing.T) {
	u, err := ParseURI("http://example.test:8080/a/b?c=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Host != "example.test" || u.Port != 8080 || u.Path != "/a/b?c=1" {
		t.Errorf("got %+v", u)
	}
}

// TestParseURIRejectsNonHTTPScheme verifies a non-http scheme is
// malformed.
func TestParseURIRejectsNonHTTPScheme(t *testing.T) {
	if _, err := ParseURI("ftp://host/"); err != ErrMalformed {
		t.Errorf("got err=%v, want ErrMalformed", err)
	}
}

// TestParseHeadersEmptyBlock verifies an immediate terminator line yields
// zero headers.
func TestParseHeadersEmptyBlock(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\r\n"))
	headers, err := ParseHeaders(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(headers) != 0 {
		t.Errorf("got %d headers, want 0", len(headers))
	}
}

// TestParseHeadersTrimsValue verifies one leading space and the trailing
// terminator are trimmed from the value.
func TestParseHeadersTrimsValue(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Host: example.test\r\n\r\n"))
	headers, err := ParseHeaders(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(headers) != 1 || headers[0].Name != "Host" || headers[0].Value != "example.test" {
		t.Errorf("got %+v", headers)
	}
}

// TestParseHeadersRejectsMissingColon verifies a header line with no
// colon is malformed.
func TestParseHeadersRejectsMissingColon(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Foo\r\n\r\n"))
	if _, err := ParseHeaders(r); err != ErrMalformed {
		t.Errorf("got err=%v, want ErrMalformed", err)
	}
}

// TestParseHeadersRejectsEmptyInitialRead verifies EOF before any line is
// malformed ("Incomplete request").
func TestParseHeadersRejectsEmptyInitialRead(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	if _, err := ParseHeaders(r); err != ErrMalformed {
		t.Errorf("got err=%v, want ErrMalformed", err)
	}
}
