package resolver

import (
	"strings"

	"dbdoctor/internal/descriptor"
)

// Candidates lists, in probe order and without duplicates, every descriptor
// the policy derives from base. Host/user variants form the outer loop; the
// policy's Order decides how scheme and TLS nest inside it.
func Candidates(base descriptor.Descriptor, p Policy) []descriptor.Descriptor {
	var endpoints []descriptor.Descriptor
	if p.Pooler == nil || !p.SkipBaseHost {
		endpoints = append(endpoints, base)
	}
	endpoints = append(endpoints, poolerEndpoints(base, p.Pooler)...)

	schemes := p.schemes(base)
	policies := p.tls()

	seen := make(map[string]struct{})
	var out []descriptor.Descriptor
	add := func(d descriptor.Descriptor) {
		k := d.Key()
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}

	for _, ep := range endpoints {
		switch p.Order {
		case OrderSchemeInner:
			for _, tls := range policies {
				for _, s := range schemes {
					add(ep.WithScheme(s).WithTLS(tls))
				}
			}
		default:
			for _, s := range schemes {
				for _, tls := range policies {
					add(ep.WithScheme(s).WithTLS(tls))
				}
			}
		}
	}
	return out
}

func poolerEndpoints(base descriptor.Descriptor, t *PoolerTemplate) []descriptor.Descriptor {
	if t == nil || strings.TrimSpace(t.HostPattern) == "" {
		return nil
	}
	regions := t.Regions
	if len(regions) == 0 || !strings.Contains(t.HostPattern, "{region}") {
		regions = []string{""}
	}
	users := t.UserPatterns
	if len(users) == 0 {
		users = DefaultPoolerUserPatterns
	}
	// a bare base user, e.g. "postgres" rather than "postgres.<ref>"
	baseUser := base.User()
	if t.ProjectRef != "" {
		baseUser = strings.TrimSuffix(baseUser, "."+t.ProjectRef)
	}

	var out []descriptor.Descriptor
	for _, region := range regions {
		sub := placeholders(region, t.ProjectRef, baseUser)
		host := sub.Replace(t.HostPattern)
		for _, up := range users {
			user := sub.Replace(up)
			if user == "" || strings.HasSuffix(user, ".") || strings.HasPrefix(user, ".") {
				continue
			}
			out = append(out, base.WithHost(host, t.Port).WithUser(user))
		}
	}
	return out
}
