package descriptor

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Mask replaces the password segment in anything shown to a human.
const Mask = "****"

var ErrEmptyURL = errors.New("descriptor: empty connection URL")

// Parse reads a postgres:// or postgresql:// URL. When the URL carries no
// sslmode, managed hosts default to TLSInsecureAccept and everything else to
// TLSDisabled.
func Parse(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		// url.Error echoes the input; never let the password through.
		return Descriptor{}, fmt.Errorf("descriptor: parse %s: invalid URL", RedactString(raw))
	}
	scheme, err := ParseScheme(u.Scheme)
	if err != nil {
		return Descriptor{}, err
	}
	if u.Hostname() == "" {
		return Descriptor{}, fmt.Errorf("descriptor: %s has no host", RedactString(raw))
	}

	creds := Credentials{Host: u.Hostname()}
	if u.User != nil {
		creds.User = u.User.Username()
		creds.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Descriptor{}, fmt.Errorf("descriptor: invalid port %q", p)
		}
		creds.Port = port
	}

	q := u.Query()
	var tls TLSPolicy
	if mode := q.Get("sslmode"); mode != "" {
		tls, err = ParseTLSPolicy(mode)
		if err != nil {
			return Descriptor{}, err
		}
	} else if KindOf(creds.Host).Managed() {
		tls = TLSInsecureAccept
	}
	q.Del("sslmode")

	d := New(scheme, creds, strings.TrimPrefix(u.Path, "/"), tls)
	d.params = encodeParams(q)
	return d, nil
}

var passwordSegment = regexp.MustCompile(`:[^:@/]+@`)

// RedactString masks the password in an arbitrary connection string, even
// one that does not parse as a URL. Within a URL the mask runs from the first
// ':' of the userinfo to the last '@', so unescaped '@', ':' or '/' in a
// password are covered too.
func RedactString(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "://")
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i+3])
		rest := s[i+3:]
		end := strings.IndexAny(rest, "?# \t\r\n\"'`")
		if end < 0 {
			end = len(rest)
		}
		auth := rest[:end]
		if at := strings.LastIndex(auth, "@"); at >= 0 {
			if c := strings.Index(auth[:at], ":"); c >= 0 {
				auth = auth[:c+1] + Mask + auth[at:]
			}
		}
		b.WriteString(auth)
		s = rest[end:]
	}
	return passwordSegment.ReplaceAllString(b.String(), ":"+Mask+"@")
}

// HostKind is a coarse guess at what sits behind a hostname.
type HostKind string

const (
	HostPooler  HostKind = "pooler"
	HostDirect  HostKind = "direct"
	HostNeon    HostKind = "neon"
	HostUnknown HostKind = "unknown"
)

// KindOf classifies a hostname by the conventions managed providers use.
func KindOf(host string) HostKind {
	h := strings.ToLower(host)
	switch {
	case strings.Contains(h, "pooler") || strings.HasPrefix(h, "aws-0"):
		return HostPooler
	case strings.HasPrefix(h, "db.") && strings.HasSuffix(h, ".supabase.co"):
		return HostDirect
	case strings.Contains(h, "neon"):
		return HostNeon
	}
	return HostUnknown
}

// Managed reports whether the host belongs to a hosted provider that
// expects TLS.
func (k HostKind) Managed() bool { return k != HostUnknown }

// Kind classifies the descriptor's host.
func (d Descriptor) Kind() HostKind { return KindOf(d.creds.Host) }
