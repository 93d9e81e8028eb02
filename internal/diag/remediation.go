package diag

var remediations = map[Kind][]string{
	HostUnresolvable: {
		"The host name does not resolve. The project may be paused, or the URL is wrong.",
		"Check DNS and network access from this machine.",
		"For a managed pooler the URL usually looks like postgresql://postgres.<project>:<password>@<region>.pooler.<provider>:6543/postgres.",
	},
	AuthenticationFailed: {
		"The server rejected the credentials. Verify the password in the connection URL.",
		"Verify the user exists and may log in. Poolers often expect the user as <user>.<project>.",
	},
	DatabaseMissing: {
		"The database named in the URL does not exist. Check the path segment after the host.",
	},
	TimedOut: {
		"The server did not answer in time. Check firewalls, allow-lists and the port (direct 5432 vs pooler 6543).",
		"A paused or cold-starting managed instance can also time out; retry after it wakes.",
	},
	TLSNegotiationFailed: {
		"TLS negotiation failed. Try sslmode=require if the server certificate cannot be verified from here.",
		"If the server does not offer TLS at all, sslmode=disable is the only option that will connect.",
	},
	Unknown: {
		"Copy the exact connection string from the provider dashboard and retry.",
		"Rerun with LOG_LEVEL=debug to see the raw driver errors.",
	},
}

// Remediation returns the fixed hints for a kind. The slice is a copy.
func Remediation(k Kind) []string {
	hints, ok := remediations[k]
	if !ok {
		hints = remediations[Unknown]
	}
	return append([]string(nil), hints...)
}
