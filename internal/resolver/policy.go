package resolver

import (
	"fmt"
	"strings"
	"time"

	"dbdoctor/internal/descriptor"
)

// Order chooses which dimension varies fastest while walking candidates.
type Order int

const (
	// OrderTLSInner tries every TLS policy for a scheme before switching scheme.
	OrderTLSInner Order = iota
	// OrderSchemeInner tries both schemes for a TLS policy before relaxing TLS.
	OrderSchemeInner
)

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tls-inner", "tls":
		return OrderTLSInner, nil
	case "scheme-inner", "scheme":
		return OrderSchemeInner, nil
	}
	return 0, fmt.Errorf("resolver: unknown order %q", s)
}

// PoolerTemplate describes a managed pooler front end whose hostname embeds
// a region and whose user name embeds a project reference.
type PoolerTemplate struct {
	// HostPattern such as "{region}.pooler.supabase.com".
	HostPattern string
	Regions     []string
	ProjectRef  string
	Port        int
	// UserPatterns such as "{user}.{project}"; tried in order.
	UserPatterns []string
}

// DefaultPoolerUserPatterns are the two user formats seen in practice.
var DefaultPoolerUserPatterns = []string{"{user}.{project}", "{project}"}

// Policy controls candidate generation and pacing. Every list is ordered
// by priority.
type Policy struct {
	// Schemes to try. Empty means the base scheme followed by the other spelling.
	Schemes []descriptor.Scheme
	// TLS policies to try. Empty means DefaultTLSOrder.
	TLS   []descriptor.TLSPolicy
	Order Order

	// Pooler, when set, adds pooler host/user variants after the base host.
	Pooler *PoolerTemplate
	// SkipBaseHost drops the base host when a pooler template is given.
	SkipBaseHost bool

	// ProbeTimeout bounds each attempt.
	ProbeTimeout time.Duration
	// Spacing is the minimum gap between probe starts. Zero means no pacing.
	Spacing time.Duration
}

// DefaultTLSOrder tries the strict policy first, then the compatible one a
// managed endpoint usually needs, and plaintext last.
var DefaultTLSOrder = []descriptor.TLSPolicy{
	descriptor.TLSSystemVerified,
	descriptor.TLSInsecureAccept,
	descriptor.TLSDisabled,
}

func DefaultPolicy() Policy {
	return Policy{
		TLS:          append([]descriptor.TLSPolicy(nil), DefaultTLSOrder...),
		ProbeTimeout: 10 * time.Second,
		Spacing:      250 * time.Millisecond,
	}
}

func (p Policy) schemes(base descriptor.Descriptor) []descriptor.Scheme {
	if len(p.Schemes) > 0 {
		return p.Schemes
	}
	return []descriptor.Scheme{base.Scheme(), base.Scheme().Other()}
}

func (p Policy) tls() []descriptor.TLSPolicy {
	if len(p.TLS) > 0 {
		return p.TLS
	}
	return DefaultTLSOrder
}

// placeholders substitutes {region}, {project} and {user} in one left-to-right
// pass. Substituted values are never rescanned.
func placeholders(region, project, user string) *strings.Replacer {
	return strings.NewReplacer("{region}", region, "{project}", project, "{user}", user)
}
