package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// RuleKind selects how a quick rule's domain is matched.
type RuleKind string

const (
	KindDomain  RuleKind = "domain"
	KindSuffix  RuleKind = "suffix"
	KindKeyword RuleKind = "keyword"
)

// Tag renders the kind as the rule tag mihomo expects.
func (k RuleKind) Tag() string {
	switch k {
	case KindDomain:
		return "DOMAIN"
	case KindKeyword:
		return "DOMAIN-KEYWORD"
	default:
		return "DOMAIN-SUFFIX"
	}
}

// QuickRule is one user-managed routing rule kept in app.yaml and
// prepended ahead of everything else at generation time.
type QuickRule struct {
	Domain string   `yaml:"domain"`
	Kind   RuleKind `yaml:"kind"`
	Via    string   `yaml:"via"`
}

// Rule renders the KIND,DOMAIN,VIA line.
func (r QuickRule) Rule() string {
	return fmt.Sprintf("%s,%s,%s", r.Kind.Tag(), r.Domain, r.Via)
}

// UnmarshalYAML fills the kind default and rejects unknown kinds, so a
// hand-edited app.yaml fails loudly instead of silently matching
// nothing.
func (r *QuickRule) UnmarshalYAML(node *yaml.Node) error {
	type plain QuickRule
	var tmp plain
	if err := node.Decode(&tmp); err != nil {
		return err
	}
	switch tmp.Kind {
	case KindDomain, KindSuffix, KindKeyword:
	case "":
		tmp.Kind = KindSuffix
	default:
		return fmt.Errorf("unknown rule kind %q", tmp.Kind)
	}
	*r = QuickRule(tmp)
	return nil
}

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseQuickRule normalizes raw flag values into a QuickRule. The kind
// falls back to suffix for anything unrecognized; well-known via
// targets are canonicalized (direct→DIRECT, reject→REJECT,
// proxy→Proxy), everything else passes through for mihomo to resolve.
func ParseQuickRule(domain, kind, via string) (QuickRule, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return QuickRule{}, newParseError(domain, "规则域名不能为空", "expected: non-empty domain", nil)
	}
	if strings.Contains(domain, ",") {
		return QuickRule{}, newParseError(domain, "规则域名不能包含逗号", "expected: domain without commas", nil)
	}

	var k RuleKind
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "domain":
		k = KindDomain
	case "keyword":
		k = KindKeyword
	default:
		k = KindSuffix
	}

	via = strings.TrimSpace(via)
	if via == "" {
		return QuickRule{}, newParseError(domain, "规则目标不能为空", "expected: non-empty via target", nil)
	}
	switch strings.ToLower(via) {
	case "direct":
		via = "DIRECT"
	case "reject":
		via = "REJECT"
	case "proxy":
		via = "Proxy"
	}

	return QuickRule{Domain: domain, Kind: k, Via: via}, nil
}

func newParseError(snippet, message, hint string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    "RULE_PARSE_ERROR",
			Message: message,
			Stage:   "parse_rule",
			Snippet: truncateSnippet(snippet),
			Hint:    hint,
		},
		Cause: cause,
	}
}

func truncateSnippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
