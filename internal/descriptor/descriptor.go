// Package descriptor models one fully specified way of reaching a Postgres
// endpoint. Descriptors are values: every "change" produces a new descriptor,
// so a candidate list can be built from a base without aliasing.
package descriptor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is used when a URL or credential omits the port.
const DefaultPort = 5432

// Scheme is the URL scheme token. Both spellings name the same protocol but
// some drivers and poolers parse them differently.
type Scheme string

const (
	SchemePostgres   Scheme = "postgres"
	SchemePostgreSQL Scheme = "postgresql"
)

// Other returns the alternate spelling.
func (s Scheme) Other() Scheme {
	if s == SchemePostgres {
		return SchemePostgreSQL
	}
	return SchemePostgres
}

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemePostgres:
		return SchemePostgres, nil
	case SchemePostgreSQL:
		return SchemePostgreSQL, nil
	}
	return "", fmt.Errorf("descriptor: unsupported scheme %q", s)
}

// TLSPolicy is how a connection negotiates TLS.
type TLSPolicy int

const (
	// TLSDisabled sends no TLS at all.
	TLSDisabled TLSPolicy = iota
	// TLSInsecureAccept negotiates TLS without verifying the server certificate.
	TLSInsecureAccept
	// TLSSystemVerified negotiates TLS and verifies chain and hostname against system roots.
	TLSSystemVerified
)

func (p TLSPolicy) String() string {
	switch p {
	case TLSDisabled:
		return "disabled"
	case TLSInsecureAccept:
		return "insecure-accept"
	case TLSSystemVerified:
		return "system-verified"
	}
	return "tls(" + strconv.Itoa(int(p)) + ")"
}

// SSLMode is the libpq sslmode that implements the policy.
func (p TLSPolicy) SSLMode() string {
	switch p {
	case TLSInsecureAccept:
		return "require"
	case TLSSystemVerified:
		return "verify-full"
	}
	return "disable"
}

// Enabled reports whether the policy puts TLS on the wire.
func (p TLSPolicy) Enabled() bool { return p != TLSDisabled }

func (p TLSPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParseTLSPolicy accepts the policy names as well as libpq sslmode values.
func ParseTLSPolicy(s string) (TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "disable", "off", "false":
		return TLSDisabled, nil
	case "insecure-accept", "insecure", "allow", "prefer", "require":
		return TLSInsecureAccept, nil
	case "system-verified", "verified", "verify-ca", "verify-full":
		return TLSSystemVerified, nil
	}
	return 0, fmt.Errorf("descriptor: unknown tls policy %q", s)
}

// Credentials identify who connects where.
type Credentials struct {
	User     string
	Password string
	Host     string
	Port     int
}

// Descriptor is immutable once constructed. Use the With methods to derive variants.
type Descriptor struct {
	scheme   Scheme
	creds    Credentials
	database string
	tls      TLSPolicy
	// extra query parameters except sslmode, encoded in sorted order.
	params string
}

// New builds a descriptor. A zero port becomes DefaultPort and an empty
// scheme becomes postgresql.
func New(scheme Scheme, creds Credentials, database string, tls TLSPolicy) Descriptor {
	if scheme == "" {
		scheme = SchemePostgreSQL
	}
	if creds.Port == 0 {
		creds.Port = DefaultPort
	}
	return Descriptor{scheme: scheme, creds: creds, database: database, tls: tls}
}

func (d Descriptor) Scheme() Scheme           { return d.scheme }
func (d Descriptor) Credentials() Credentials { return d.creds }
func (d Descriptor) Database() string         { return d.database }
func (d Descriptor) TLS() TLSPolicy           { return d.tls }
func (d Descriptor) Host() string             { return d.creds.Host }
func (d Descriptor) User() string             { return d.creds.User }

// IsZero reports whether d was never constructed.
func (d Descriptor) IsZero() bool { return d.scheme == "" && d.creds.Host == "" }

func (d Descriptor) WithScheme(s Scheme) Descriptor {
	d.scheme = s
	return d
}

func (d Descriptor) WithTLS(p TLSPolicy) Descriptor {
	d.tls = p
	return d
}

func (d Descriptor) WithHost(host string, port int) Descriptor {
	d.creds.Host = host
	if port > 0 {
		d.creds.Port = port
	}
	return d
}

func (d Descriptor) WithUser(user string) Descriptor {
	d.creds.User = user
	return d
}

// URL renders the descriptor as a connection string, sslmode included.
func (d Descriptor) URL() string {
	return d.render(false)
}

// Redacted renders the connection string with the password masked.
func (d Descriptor) Redacted() string {
	return d.render(true)
}

// Key identifies the descriptor for distinctness checks.
func (d Descriptor) Key() string {
	return d.URL()
}

func (d Descriptor) String() string { return d.Redacted() }

func (d Descriptor) render(redact bool) string {
	var b strings.Builder
	b.WriteString(string(d.scheme))
	b.WriteString("://")
	if d.creds.User != "" {
		b.WriteString(url.User(d.creds.User).String())
		if d.creds.Password != "" {
			if redact {
				b.WriteString(":" + Mask)
			} else {
				// ":<escaped password>"
				b.WriteString(url.UserPassword("", d.creds.Password).String())
			}
		}
		b.WriteByte('@')
	}
	b.WriteString(net.JoinHostPort(d.creds.Host, strconv.Itoa(d.creds.Port)))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(d.database))
	b.WriteString("?")
	if d.params != "" {
		b.WriteString(d.params)
		b.WriteByte('&')
	}
	b.WriteString("sslmode=")
	b.WriteString(d.tls.SSLMode())
	return b.String()
}

// MarshalJSON never exposes the password.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		URL      string    `json:"url"`
		Scheme   Scheme    `json:"scheme"`
		Host     string    `json:"host"`
		Port     int       `json:"port"`
		User     string    `json:"user"`
		Database string    `json:"database"`
		TLS      TLSPolicy `json:"tls"`
	}{
		URL:      d.Redacted(),
		Scheme:   d.scheme,
		Host:     d.creds.Host,
		Port:     d.creds.Port,
		User:     d.creds.User,
		Database: d.database,
		TLS:      d.tls,
	})
}

func encodeParams(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
