package diag

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Code is a machine-readable error code: a Postgres SQLSTATE or one of the
// socket-level codes below.
type Code string

const (
	CodeNone              Code = ""
	CodeHostNotFound      Code = "ENOTFOUND"
	CodeTryAgain          Code = "EAI_AGAIN"
	CodeTimedOut          Code = "ETIMEDOUT"
	CodeConnRefused       Code = "ECONNREFUSED"
	CodeInvalidPassword   Code = "28P01"
	CodeInvalidAuthSpec   Code = "28000"
	CodeInvalidCatalog    Code = "3D000"
	CodeUndefinedTable    Code = "42P01"
	CodeTooManyConnection Code = "53300"
)

// RawError is the boundary form of a driver failure.
type RawError struct {
	Code    Code
	Message string
}

type rule struct {
	kind   Kind
	codes  []Code
	tokens []string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{kind: HostUnresolvable, codes: []Code{CodeHostNotFound, CodeTryAgain}},
	{kind: AuthenticationFailed, codes: []Code{CodeInvalidPassword}, tokens: []string{"password"}},
	{kind: DatabaseMissing, codes: []Code{CodeInvalidCatalog}, tokens: []string{"database"}},
	{kind: TimedOut, codes: []Code{CodeTimedOut}, tokens: []string{"timeout", "timed out", "deadline exceeded"}},
	{kind: TLSNegotiationFailed, tokens: []string{"tls", "ssl", "x509", "certificate", "handshake"}},
}

// Classify maps a raw error to a Kind. It is total and pure.
func Classify(raw RawError) Kind {
	msg := strings.ToLower(raw.Message)
	for _, r := range rules {
		for _, c := range r.codes {
			if raw.Code == c {
				return r.kind
			}
		}
		for _, t := range r.tokens {
			if strings.Contains(msg, t) {
				return r.kind
			}
		}
	}
	return Unknown
}

// ClassifyError is Classify(FromError(err)). A nil error is Unknown.
func ClassifyError(err error) Kind {
	return Classify(FromError(err))
}

// FromError reduces a Go error chain to a RawError.
//
// pgconn.ConnectError prefixes its message with the connection config
// ("user=... database=..."), so the wrapped cause is used as the message.
func FromError(err error) RawError {
	if err == nil {
		return RawError{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return RawError{Code: Code(pgErr.Code), Message: pgErr.Message}
	}

	msg := err.Error()
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		if inner := connErr.Unwrap(); inner != nil {
			msg = inner.Error()
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return RawError{Code: CodeHostNotFound, Message: "lookup " + dnsErr.Name + ": " + dnsErr.Err}
		case dnsErr.IsTimeout:
			return RawError{Code: CodeTimedOut, Message: "lookup timed out"}
		case dnsErr.IsTemporary:
			return RawError{Code: CodeTryAgain, Message: "lookup " + dnsErr.Name + ": " + dnsErr.Err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return RawError{Code: CodeTimedOut, Message: msg}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RawError{Code: CodeTimedOut, Message: msg}
	}

	if isTLSError(err) {
		// make sure rule 5 sees a TLS token even if the library phrased it otherwise
		if !strings.Contains(strings.ToLower(msg), "tls") {
			msg = "tls: " + msg
		}
		return RawError{Message: msg}
	}

	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(msg, "connection refused") {
		return RawError{Code: CodeConnRefused, Message: msg}
	}
	return RawError{Message: msg}
}

func isTLSError(err error) bool {
	var (
		recErr   tls.RecordHeaderError
		verErr   *tls.CertificateVerificationError
		unkAuth  x509.UnknownAuthorityError
		hostErr  x509.HostnameError
		certErr  x509.CertificateInvalidError
		alertErr tls.AlertError
	)
	return errors.As(err, &recErr) ||
		errors.As(err, &verErr) ||
		errors.As(err, &unkAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &alertErr)
}

// Majority returns the most frequent kind. Ties go to the kind whose rule
// comes first; an empty slice is Unknown.
func Majority(kinds []Kind) Kind {
	if len(kinds) == 0 {
		return Unknown
	}
	counts := make(map[Kind]int, len(kinds))
	for _, k := range kinds {
		counts[k]++
	}
	best, bestN := Unknown, 0
	for _, k := range Kinds() {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}
