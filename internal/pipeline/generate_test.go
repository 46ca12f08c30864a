package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/profile"
	"github.com/John-Robertt/mihomoctl-go/internal/rules"
	"github.com/John-Robertt/mihomoctl-go/internal/tweak"
)

const generateTemplate = `port: 7890
proxies:
  - name: base
    type: trojan
    server: t.example.com
    port: 443
    password: x
proxy-groups:
  - name: "🚀 节点选择"
    type: select
    proxies:
      - base
rules:
  - MATCH,DIRECT
dns:
  enable: true
  enhanced-mode: fake-ip
  fake-ip-filter:
    - "+.lan"
`

func docFromYAML(t *testing.T, text string) *model.Document {
	t.Helper()
	doc, err := profile.Parse("test", text)
	if err != nil {
		t.Fatalf("fixture parse error: %v", err)
	}
	return doc
}

func extString(t *testing.T, doc *model.Document, key string) string {
	t.Helper()
	s, ok := doc.Extension.GetString(key)
	if !ok {
		t.Fatalf("extension key %q missing or not a string", key)
	}
	return s
}

func nestedStrings(t *testing.T, doc *model.Document, outer, inner string) []string {
	t.Helper()
	v, ok := doc.Extension.Get(outer)
	if !ok {
		t.Fatalf("extension key %q missing", outer)
	}
	m := v.Mapping()
	if m == nil {
		t.Fatalf("%q is not a mapping", outer)
	}
	seq, ok := m.Get(inner)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range seq.Items() {
		if s, ok := item.Text(); ok {
			out = append(out, s)
		}
	}
	return out
}

func groupMembers(t *testing.T, doc *model.Document, name string) []string {
	t.Helper()
	for _, g := range doc.ProxyGroups {
		m := g.Mapping()
		if n, _ := m.GetString("name"); n != name {
			continue
		}
		members, ok := m.Get("proxies")
		if !ok {
			t.Fatalf("group %q has no proxies key", name)
		}
		var out []string
		for _, item := range members.Items() {
			s, _ := item.Text()
			out = append(out, s)
		}
		return out
	}
	t.Fatalf("group %q not found", name)
	return nil
}

func TestGenerate_ComposesSubscriptionsIntoTemplate(t *testing.T) {
	template := docFromYAML(t, generateTemplate)
	sub := docFromYAML(t, "proxies:\n  - name: hk-1\n    type: ss\n")

	r := Generate(template, nil, []*model.Document{sub}, Options{}, nil)

	if want := []string{"base", "hk-1"}; !reflect.DeepEqual(r.ProxyNames, want) {
		t.Fatalf("proxy names=%v, want=%v", r.ProxyNames, want)
	}
	if got := groupMembers(t, r.Doc, "🚀 节点选择"); !reflect.DeepEqual(got, []string{"base", "hk-1"}) {
		t.Fatalf("selector members=%v", got)
	}

	filter := nestedStrings(t, r.Doc, "dns", "fake-ip-filter")
	for _, want := range []string{"+.lan", "+.cluster.local", "*.cluster.local.*"} {
		found := false
		for _, got := range filter {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("fake-ip-filter=%v, missing %q", filter, want)
		}
	}

	excludes := nestedStrings(t, r.Doc, "tun", "route-exclude-address")
	if !reflect.DeepEqual(excludes, []string{"10.42.0.0/16", "10.43.0.0/16"}) {
		t.Fatalf("route excludes=%v", excludes)
	}
}

func TestGenerate_BaseOverlayWins(t *testing.T) {
	template := docFromYAML(t, generateTemplate)
	base := docFromYAML(t, "port: 9999\nsecret: base-secret\n")

	r := Generate(template, base, nil, Options{}, nil)
	if r.Doc.Port == nil || *r.Doc.Port != 9999 {
		t.Fatalf("port=%v, want=9999", r.Doc.Port)
	}
	if got := extString(t, r.Doc, "secret"); got != "base-secret" {
		t.Fatalf("secret=%q", got)
	}
}

func TestGenerate_DevRulesPrependedWithResolvedVia(t *testing.T) {
	template := docFromYAML(t, generateTemplate)

	r := Generate(template, nil, nil, Options{DevRules: true, DevRulesVia: rules.DefaultVia}, nil)

	if r.DevVia != "🚀 节点选择" {
		t.Fatalf("via=%q, want selector fallback", r.DevVia)
	}
	if r.DevAdded != len(rules.DevTargets) {
		t.Fatalf("added=%d, want=%d", r.DevAdded, len(rules.DevTargets))
	}
	if len(r.DevListing) != len(rules.DevTargets) {
		t.Fatalf("listing=%d, want=%d", len(r.DevListing), len(rules.DevTargets))
	}

	if got := r.Doc.Rules[0]; got != "DOMAIN-SUFFIX,github.com,🚀 节点选择" {
		t.Fatalf("first rule=%q", got)
	}
	if got := r.Doc.Rules[len(r.Doc.Rules)-1]; got != "MATCH,DIRECT" {
		t.Fatalf("last rule=%q, want template rule kept", got)
	}
}

func TestGenerate_DevRulesShowWithoutApply(t *testing.T) {
	template := docFromYAML(t, generateTemplate)

	r := Generate(template, nil, nil, Options{DevRulesShow: true}, nil)

	if r.DevAdded != 0 {
		t.Fatalf("added=%d, want=0", r.DevAdded)
	}
	if len(r.DevListing) == 0 || r.DevVia == "" {
		t.Fatalf("listing/via not computed: listing=%d via=%q", len(r.DevListing), r.DevVia)
	}
	if want := []string{"MATCH,DIRECT"}; !reflect.DeepEqual(r.Doc.Rules, want) {
		t.Fatalf("rules=%v, want untouched %v", r.Doc.Rules, want)
	}
}

func TestGenerate_ExplicitViaKeptVerbatim(t *testing.T) {
	template := docFromYAML(t, generateTemplate)

	r := Generate(template, nil, nil, Options{DevRules: true, DevRulesVia: "MyGroup"}, nil)
	if r.DevVia != "MyGroup" {
		t.Fatalf("via=%q, want requested value kept", r.DevVia)
	}
}

func TestGenerate_CustomRulesComeBeforeDevRules(t *testing.T) {
	template := docFromYAML(t, generateTemplate)
	custom := []rules.QuickRule{
		{Domain: "corp.example.com", Kind: rules.KindSuffix, Via: "DIRECT"},
		{Domain: "ads.example.com", Kind: rules.KindDomain, Via: "REJECT"},
	}

	r := Generate(template, nil, nil, Options{DevRules: true, CustomRules: custom}, nil)

	if got := r.Doc.Rules[0]; got != "DOMAIN-SUFFIX,corp.example.com,DIRECT" {
		t.Fatalf("rule[0]=%q", got)
	}
	if got := r.Doc.Rules[1]; got != "DOMAIN,ads.example.com,REJECT" {
		t.Fatalf("rule[1]=%q", got)
	}
	if got := r.Doc.Rules[2]; !strings.HasPrefix(got, "DOMAIN-SUFFIX,github.com,") {
		t.Fatalf("rule[2]=%q, want first dev rule", got)
	}
}

func TestGenerate_ControllerAndFilterOverrides(t *testing.T) {
	template := docFromYAML(t, generateTemplate)

	r := Generate(template, nil, nil, Options{
		Controller:       tweak.ControllerOverride{Host: "0.0.0.0", Port: 9091, Secret: "s3cret"},
		FakeIPBypass:     []string{"+.corp.example.com"},
		FakeIPFilterAdd:  []string{"+.printer.local"},
		FakeIPFilterMode: "whitelist",
	}, nil)

	if got := extString(t, r.Doc, "external-controller"); got != "0.0.0.0:9091" {
		t.Fatalf("controller=%q", got)
	}
	if got := extString(t, r.Doc, "secret"); got != "s3cret" {
		t.Fatalf("secret=%q", got)
	}

	filter := nestedStrings(t, r.Doc, "dns", "fake-ip-filter")
	joined := strings.Join(filter, "|")
	if !strings.Contains(joined, "+.corp.example.com") || !strings.Contains(joined, "+.printer.local") {
		t.Fatalf("fake-ip-filter=%v", filter)
	}

	// Bypass entries force blacklist; the whitelist request loses.
	v, _ := r.Doc.Extension.Get("dns")
	mode, _ := v.Mapping().GetString("fake-ip-filter-mode")
	if mode != "blacklist" {
		t.Fatalf("filter mode=%q, want=%q", mode, "blacklist")
	}
}

func TestGenerate_TunExcludesExtended(t *testing.T) {
	template := docFromYAML(t, generateTemplate)

	r := Generate(template, nil, nil, Options{TunExcludes: []string{"192.168.0.0/16"}}, nil)
	excludes := nestedStrings(t, r.Doc, "tun", "route-exclude-address")
	if want := []string{"10.42.0.0/16", "10.43.0.0/16", "192.168.0.0/16"}; !reflect.DeepEqual(excludes, want) {
		t.Fatalf("route excludes=%v, want=%v", excludes, want)
	}
}

func TestGenerate_NilTemplateStillComposes(t *testing.T) {
	sub := docFromYAML(t, "proxies:\n  - name: hk-1\n    type: ss\n")

	r := Generate(nil, nil, []*model.Document{sub}, Options{}, nil)
	if want := []string{"hk-1"}; !reflect.DeepEqual(r.ProxyNames, want) {
		t.Fatalf("proxy names=%v, want=%v", r.ProxyNames, want)
	}
}
