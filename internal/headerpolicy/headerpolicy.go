// Package headerpolicy implements a rule-based header rewriter: it
// suppresses hop-by-hop and agent-identifying headers from the client and
// substitutes the proxy's canonical set in a fixed append order.
package headerpolicy

import "strings"

// MaxHeaderEntries is the header-count limit for a Set. Nothing in this
// package enforces it: Append accepts fields past it.
const MaxHeaderEntries = 40

// suppressed lists the headers the proxy never forwards verbatim from the
// client — it always substitutes its own canonical values for these.
var suppressed = map[string]struct{}{
	"User-Agent":       {},
	"Accepts":          {},
	"Accept-Encoding":  {},
	"Connection":       {},
	"Proxy-Connection": {},
}

// Canonical header values the proxy always sends upstream, appended in
// this fixed order after the client's forwarded headers.
const (
	CanonicalUserAgent      = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"
	CanonicalAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	CanonicalAcceptEncoding = "gzip, deflate"
	CanonicalConnection     = "close"
	CanonicalProxyConn      = "close"
)

// Field is a single (name, value) pair in a Header Set.
type Field struct {
	Name  string
	Value string
}

// Set is an ordered header set with no capacity check of its own (see
// MaxHeaderEntries). Duplicates are not permitted: callers must check
// NeedHeader before Append.
type Set struct {
	fields []Field
}

// NewSet constructs an empty Header Set.
func NewSet() *Set {
	return &Set{}
}

// Fields returns the set's (name, value) pairs in append order.
func (s *Set) Fields() []Field {
	return s.fields
}

// Len reports the number of fields currently held.
func (s *Set) Len() int {
	return len(s.fields)
}

// Has reports whether name is already present (case-sensitive compare).
func (s *Set) Has(name string) bool {
	for _, f := range s.fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// NeedHeader reports whether name should be appended: false when name is
// one of the suppressed hop-by-hop/agent headers, or already present.
func NeedHeader(name string, s *Set) bool {
	if _, ok := suppressed[name]; ok {
		return false
	}
	return !s.Has(name)
}

// Append pushes (name, value) onto the tail unconditionally. Callers are
// responsible for bounding Len() against MaxHeaderEntries and for calling
// NeedHeader first when de-duplication matters.
func (s *Set) Append(name, value string) {
	s.fields = append(s.fields, Field{Name: name, Value: value})
}

// ApplyCanonical appends the proxy's fixed canonical header set in order:
// User-Agent, Accept, Accept-Encoding, Connection: close,
// Proxy-Connection: close — then synthesizes Host from host if the client
// never supplied one.
func ApplyCanonical(s *Set, host string) {
	s.Append("User-Agent", CanonicalUserAgent)
	s.Append("Accept", CanonicalAccept)
	s.Append("Accept-Encoding", CanonicalAcceptEncoding)
	s.Append("Connection", CanonicalConnection)
	s.Append("Proxy-Connection", CanonicalProxyConn)

	if !hasFoldedHost(s) {
		s.Append("Host", host)
	}
}

// hasFoldedHost reports whether the client supplied a Host header. The
// proxy only synthesizes one in its absence; header names are otherwise
// compared case-sensitively per NeedHeader, but Host is conventionally
// sent in canonical case by clients, so a fold-insensitive match is used
// here.
func hasFoldedHost(s *Set) bool {
	for _, f := range s.fields {
		if strings.EqualFold(f.Name, "Host") {
			return true
		}
	}
	return false
}
