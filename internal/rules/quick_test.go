package rules

import (
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseQuickRule_Normalizes(t *testing.T) {
	cases := []struct {
		domain, kind, via string
		want              QuickRule
	}{
		{"example.com", "suffix", "proxy", QuickRule{Domain: "example.com", Kind: KindSuffix, Via: "Proxy"}},
		{"example.com", "domain", "DIRECT", QuickRule{Domain: "example.com", Kind: KindDomain, Via: "DIRECT"}},
		{"track", "keyword", "reject", QuickRule{Domain: "track", Kind: KindKeyword, Via: "REJECT"}},
		{" example.com ", "", "direct", QuickRule{Domain: "example.com", Kind: KindSuffix, Via: "DIRECT"}},
		{"example.com", "bogus", "My Group", QuickRule{Domain: "example.com", Kind: KindSuffix, Via: "My Group"}},
	}
	for _, tc := range cases {
		got, err := ParseQuickRule(tc.domain, tc.kind, tc.via)
		if err != nil {
			t.Fatalf("ParseQuickRule(%q,%q,%q): %v", tc.domain, tc.kind, tc.via, err)
		}
		if got != tc.want {
			t.Fatalf("ParseQuickRule(%q,%q,%q)=%+v, want=%+v", tc.domain, tc.kind, tc.via, got, tc.want)
		}
	}
}

func TestParseQuickRule_EmptyDomain(t *testing.T) {
	_, err := ParseQuickRule("  ", "suffix", "Proxy")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if pe.AppError.Code != "RULE_PARSE_ERROR" {
		t.Fatalf("code=%q, want=%q", pe.AppError.Code, "RULE_PARSE_ERROR")
	}
	if pe.AppError.Stage != "parse_rule" {
		t.Fatalf("stage=%q, want=%q", pe.AppError.Stage, "parse_rule")
	}
}

func TestParseQuickRule_CommaInDomain(t *testing.T) {
	_, err := ParseQuickRule("a,b", "suffix", "Proxy")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestParseQuickRule_EmptyVia(t *testing.T) {
	_, err := ParseQuickRule("example.com", "suffix", "")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestQuickRule_Rule(t *testing.T) {
	cases := []struct {
		rule QuickRule
		want string
	}{
		{QuickRule{Domain: "example.com", Kind: KindSuffix, Via: "Proxy"}, "DOMAIN-SUFFIX,example.com,Proxy"},
		{QuickRule{Domain: "cache.nixos.org", Kind: KindDomain, Via: "DIRECT"}, "DOMAIN,cache.nixos.org,DIRECT"},
		{QuickRule{Domain: "ads", Kind: KindKeyword, Via: "REJECT"}, "DOMAIN-KEYWORD,ads,REJECT"},
	}
	for _, tc := range cases {
		if got := tc.rule.Rule(); got != tc.want {
			t.Fatalf("Rule()=%q, want=%q", got, tc.want)
		}
	}
}

func TestQuickRule_YAMLRoundTrip(t *testing.T) {
	in := []QuickRule{
		{Domain: "example.com", Kind: KindSuffix, Via: "Proxy"},
		{Domain: "track", Kind: KindKeyword, Via: "REJECT"},
	}
	raw, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var out []QuickRule
	if err := yaml.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("round trip=%+v, want=%+v", out, in)
	}
}

func TestQuickRule_YAMLDefaultsKind(t *testing.T) {
	var r QuickRule
	if err := yaml.Unmarshal([]byte("domain: example.com\nvia: Proxy\n"), &r); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if r.Kind != KindSuffix {
		t.Fatalf("kind=%q, want=%q", r.Kind, KindSuffix)
	}
}

func TestQuickRule_YAMLRejectsUnknownKind(t *testing.T) {
	var r QuickRule
	err := yaml.Unmarshal([]byte("domain: example.com\nkind: regex\nvia: Proxy\n"), &r)
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
