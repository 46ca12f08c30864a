package merge

import (
	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// DefaultSelectorName is the well-known selector group whose
// membership is recomputed to "every known proxy" on each merge.
const DefaultSelectorName = "🚀 节点选择"

// Result is the merged document plus the de-duplicated proxy name
// list, ordered by first occurrence across template and subscriptions.
// Callers use the list to validate that a referenced proxy exists and
// to rebuild selector-style groups.
type Result struct {
	Doc        *model.Document
	ProxyNames []string
}

// Merge folds the subscriptions into a copy of template, in order:
// proxies and rules are appended, proxy-groups are folded by name,
// extension keys are inserted only when absent (the template and
// earlier subscriptions win). Any group named DefaultSelectorName ends
// up holding the full proxy name list. Inputs are never mutated.
func Merge(template *model.Document, subscriptions []*model.Document) *Result {
	out := template.Clone()

	names := make([]string, 0, len(template.Proxies))
	seen := make(map[string]bool)
	collect := func(doc *model.Document) {
		for _, n := range doc.ProxyNames() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	collect(template)
	for _, sub := range subscriptions {
		collect(sub)
	}

	// Index the accumulator's groups by name for folding. Later
	// duplicates shadow earlier ones, matching insertion into a map.
	groupIndex := make(map[string]int)
	for i, g := range out.ProxyGroups {
		if name, ok := g.Mapping().GetString("name"); ok {
			groupIndex[name] = i
		}
	}

	for _, sub := range subscriptions {
		for _, p := range sub.Proxies {
			out.Proxies = append(out.Proxies, p.Clone())
		}
		out.Rules = append(out.Rules, sub.Rules...)

		for _, g := range sub.ProxyGroups {
			name, ok := g.Mapping().GetString("name")
			if !ok {
				// No usable name to fold on: keep the entry as-is.
				out.ProxyGroups = append(out.ProxyGroups, g.Clone())
				continue
			}
			if i, exists := groupIndex[name]; exists {
				unionGroupProxies(out.ProxyGroups[i].Mapping(), g.Mapping())
				continue
			}
			out.ProxyGroups = append(out.ProxyGroups, g.Clone())
			groupIndex[name] = len(out.ProxyGroups) - 1
		}

		for _, key := range sub.Extension.Keys() {
			v, _ := sub.Extension.Get(key)
			if !out.Extension.Has(key) {
				out.Extension.Set(key, v.Clone())
			}
		}
	}

	for _, g := range out.ProxyGroups {
		m := g.Mapping()
		if name, ok := m.GetString("name"); ok && name == DefaultSelectorName {
			m.Set("proxies", nameSequence(names))
		}
	}

	return &Result{Doc: out, ProxyNames: names}
}

// unionGroupProxies merges the incoming group's member names into the
// existing group: existing order is kept, new names are appended in
// first-seen order, duplicates and non-string members are skipped. The
// existing "proxies" entry is forced into a sequence first, so a
// scalar value there is discarded rather than kept broken.
func unionGroupProxies(existing, incoming *model.Mapping) {
	members, ok := existing.Get("proxies")
	if !ok || members.Kind() != model.KindSequence {
		members = model.Sequence()
		existing.Set("proxies", members)
	}
	present := make(map[string]bool)
	for _, item := range members.Items() {
		if s, ok := item.Text(); ok {
			present[s] = true
		}
	}

	add, ok := incoming.Get("proxies")
	if !ok {
		return
	}
	for _, item := range add.Items() {
		s, ok := item.Text()
		if !ok || present[s] {
			continue
		}
		present[s] = true
		members.Append(model.String(s))
	}
}

// ApplyBase overlays the base-config onto a merged result: base ports
// win, a base "mixed-port" extension key clears all three legacy
// ports, base extension keys win on collision, non-empty base rules
// replace the merged rules, and non-empty base groups replace the
// merged groups with their membership rebuilt from the full proxy name
// list. The precedence here is deliberately the reverse of the
// subscription fold.
func ApplyBase(merged *Result, base *model.Document) *Result {
	if base == nil {
		return merged
	}
	out := merged.Doc.Clone()

	if base.Port != nil {
		p := *base.Port
		out.Port = &p
	}
	if base.SocksPort != nil {
		p := *base.SocksPort
		out.SocksPort = &p
	}
	if base.RedirPort != nil {
		p := *base.RedirPort
		out.RedirPort = &p
	}
	// mixed-port supersedes the legacy single-port fields, including
	// any port the base itself just set.
	if base.Extension.Has("mixed-port") {
		out.Port = nil
		out.SocksPort = nil
		out.RedirPort = nil
	}

	ext := base.Extension.Clone()
	if ext == nil {
		ext = model.NewMapping()
	}
	for _, key := range out.Extension.Keys() {
		if !ext.Has(key) {
			v, _ := out.Extension.Get(key)
			ext.Set(key, v)
		}
	}
	out.Extension = ext

	if len(base.Rules) > 0 {
		out.Rules = make([]string, len(base.Rules))
		copy(out.Rules, base.Rules)
	}

	if len(base.ProxyGroups) > 0 {
		groups := make([]*model.Value, 0, len(base.ProxyGroups))
		for _, g := range base.ProxyGroups {
			clone := g.Clone()
			if m := clone.Mapping(); m != nil {
				m.Set("proxies", nameSequence(merged.ProxyNames))
			}
			groups = append(groups, clone)
		}
		out.ProxyGroups = groups
	}

	return &Result{Doc: out, ProxyNames: merged.ProxyNames}
}

func nameSequence(names []string) *model.Value {
	items := make([]*model.Value, len(names))
	for i, n := range names {
		items[i] = model.String(n)
	}
	return model.Sequence(items...)
}
