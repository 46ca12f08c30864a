package rules

import (
	"fmt"
	"strings"
)

// DefaultVia is the group name dev rules point at unless the caller
// asks for something else.
const DefaultVia = "Proxy"

// commonSelectorName is the selector group most templates ship; the
// via fallback prefers it when the requested target does not exist.
const commonSelectorName = "🚀 节点选择"

// DevTarget is one built-in endpoint that development tooling needs to
// reach through the proxy.
type DevTarget struct {
	Tag  string
	Host string
}

// DevTargets lists code hosting, package registries, container
// registries and AI APIs. DOMAIN entries match the exact host,
// DOMAIN-SUFFIX entries match the host and its subdomains.
var DevTargets = []DevTarget{
	// Git & code hosting
	{"DOMAIN-SUFFIX", "github.com"},
	{"DOMAIN-SUFFIX", "githubusercontent.com"},
	{"DOMAIN-SUFFIX", "gitlab.com"},
	{"DOMAIN-SUFFIX", "bitbucket.org"},
	// Language ecosystems / registries
	{"DOMAIN-SUFFIX", "registry.npmjs.org"},
	{"DOMAIN-SUFFIX", "nodejs.org"},
	{"DOMAIN-SUFFIX", "pypi.org"},
	{"DOMAIN-SUFFIX", "files.pythonhosted.org"},
	{"DOMAIN-SUFFIX", "crates.io"},
	{"DOMAIN-SUFFIX", "static.crates.io"},
	{"DOMAIN-SUFFIX", "rubygems.org"},
	{"DOMAIN-SUFFIX", "golang.org"},
	{"DOMAIN-SUFFIX", "go.dev"},
	{"DOMAIN-SUFFIX", "golang.google.cn"},
	{"DOMAIN-SUFFIX", "rust-lang.org"},
	// Kubernetes / cloud tooling
	{"DOMAIN-SUFFIX", "k8s.io"},
	{"DOMAIN-SUFFIX", "dl.k8s.io"},
	{"DOMAIN-SUFFIX", "k3s.io"},
	// Containers / registries
	{"DOMAIN-SUFFIX", "docker.com"},
	{"DOMAIN-SUFFIX", "docker.io"},
	{"DOMAIN-SUFFIX", "registry-1.docker.io"},
	{"DOMAIN-SUFFIX", "ghcr.io"},
	{"DOMAIN-SUFFIX", "gcr.io"},
	{"DOMAIN-SUFFIX", "pkg.dev"},
	{"DOMAIN-SUFFIX", "quay.io"},
	// Nix infra
	{"DOMAIN", "cache.nixos.org"},
	// AI APIs
	{"DOMAIN-SUFFIX", "api.openai.com"},
	{"DOMAIN-SUFFIX", "claude.ai"},
}

// DevRules renders the built-in targets as rule lines routed via the
// given group, in table order.
func DevRules(via string) []string {
	out := make([]string, 0, len(DevTargets))
	for _, t := range DevTargets {
		out = append(out, fmt.Sprintf("%s,%s,%s", t.Tag, t.Host, via))
	}
	return out
}

// Matches reports whether domain hits a rule of the given tag and
// target. Comparison is case-insensitive.
func Matches(tag, target, domain string) bool {
	d := strings.ToLower(domain)
	t := strings.ToLower(target)
	switch tag {
	case "DOMAIN":
		return d == t
	case "DOMAIN-SUFFIX":
		return d == t || strings.HasSuffix(d, "."+t)
	case "DOMAIN-KEYWORD":
		return strings.Contains(d, t)
	default:
		return false
	}
}

// ResolveVia picks the group or proxy dev rules should route through.
// A requested name that exists wins; a requested name other than
// DefaultVia is kept verbatim even when missing, preserving explicit
// intent for mihomo to report. Only the default falls back: the common
// selector when present, else the first group, the first proxy, and
// finally DIRECT.
func ResolveVia(requested string, groups, proxies []string) string {
	for _, n := range groups {
		if n == requested {
			return requested
		}
	}
	for _, n := range proxies {
		if n == requested {
			return requested
		}
	}
	if requested != DefaultVia {
		return requested
	}
	for _, n := range groups {
		if n == commonSelectorName {
			return commonSelectorName
		}
	}
	if len(groups) > 0 {
		return groups[0]
	}
	if len(proxies) > 0 {
		return proxies[0]
	}
	return "DIRECT"
}

// Check reports "direct" or "proxy" for a domain: the first matching
// custom rule decides, then any built-in dev target forces proxy, then
// direct.
func Check(custom []QuickRule, domain string) string {
	for _, r := range custom {
		if Matches(r.Kind.Tag(), r.Domain, domain) {
			if strings.EqualFold(r.Via, "DIRECT") {
				return "direct"
			}
			return "proxy"
		}
	}
	for _, t := range DevTargets {
		if Matches(t.Tag, t.Host, domain) {
			return "proxy"
		}
	}
	return "direct"
}
