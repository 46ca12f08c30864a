package pipeline

import (
	"go.uber.org/zap"

	"github.com/John-Robertt/mihomoctl-go/internal/merge"
	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/rules"
	"github.com/John-Robertt/mihomoctl-go/internal/tweak"
)

// Options shape the composed document after the structural merge. The
// zero value applies no rule prepends and no overrides; the cluster
// bypass and tun exclude safeguards always run.
type Options struct {
	// DevRules prepends the developer-domain rules to the rule list.
	// DevRulesShow computes the listing and the resolved target even
	// when DevRules is off.
	DevRules     bool
	DevRulesShow bool

	// DevRulesVia is the requested rule target. It is resolved against
	// the composed document and may fall back to an existing group or
	// proxy; empty means rules.DefaultVia.
	DevRulesVia string

	// CustomRules are prepended ahead of everything else, dev rules
	// included.
	CustomRules []rules.QuickRule

	Controller tweak.ControllerOverride

	// FakeIPBypass and FakeIPFilterAdd both append to the fake-ip
	// filter list, but only FakeIPBypass forces blacklist mode against
	// an explicit whitelist request.
	FakeIPBypass    []string
	FakeIPFilterAdd []string

	// FakeIPFilterMode sets dns.fake-ip-filter-mode when non-empty.
	FakeIPFilterMode string

	// TunExcludes adds route-exclude-address CIDRs beyond the built-in
	// cluster defaults.
	TunExcludes []string
}

// Result is the composed document plus the facts a caller reports.
type Result struct {
	Doc        *model.Document
	ProxyNames []string

	// DevVia is the resolved dev-rule target, empty when no dev
	// listing was requested. DevListing holds the rendered rules and
	// DevAdded how many of them were actually prepended.
	DevVia     string
	DevListing []string
	DevAdded   int
}

// Generate runs the full composition: structural merge, optional base
// overlay, rule prepends, then the document tweaks, in that order.
func Generate(template, base *model.Document, subs []*model.Document, opt Options, log *zap.Logger) *Result {
	if log == nil {
		log = zap.NewNop()
	}
	if template == nil {
		template = model.NewDocument()
	}

	merged := merge.Merge(template, subs)
	if base != nil {
		merged = merge.ApplyBase(merged, base)
	}
	doc := merged.Doc

	out := &Result{Doc: doc, ProxyNames: merged.ProxyNames}

	if opt.DevRules || opt.DevRulesShow {
		requested := opt.DevRulesVia
		if requested == "" {
			requested = rules.DefaultVia
		}
		via := rules.ResolveVia(requested, doc.GroupNames(), doc.ProxyNames())
		if via != requested && opt.DevRules {
			log.Warn("dev rules target not found in config, using fallback",
				zap.String("requested", requested),
				zap.String("using", via))
		}

		listing := rules.DevRules(via)
		if opt.DevRules {
			combined := make([]string, 0, len(listing)+len(doc.Rules))
			combined = append(combined, listing...)
			combined = append(combined, doc.Rules...)
			doc.Rules = combined
			out.DevAdded = len(listing)
		}
		out.DevVia = via
		out.DevListing = listing
	}

	if len(opt.CustomRules) > 0 {
		quick := make([]string, 0, len(opt.CustomRules)+len(doc.Rules))
		for _, r := range opt.CustomRules {
			quick = append(quick, r.Rule())
		}
		doc.Rules = append(quick, doc.Rules...)
	}

	tweak.ApplyController(doc, opt.Controller)

	bypass := make([]string, 0, len(opt.FakeIPBypass)+len(opt.FakeIPFilterAdd))
	bypass = append(bypass, opt.FakeIPBypass...)
	bypass = append(bypass, opt.FakeIPFilterAdd...)
	if len(bypass) > 0 {
		tweak.AddFakeIPBypass(doc, bypass, log)
	}
	if opt.FakeIPFilterMode != "" {
		tweak.SetFakeIPFilterMode(doc, opt.FakeIPFilterMode, len(opt.FakeIPBypass) > 0, log)
	}

	tweak.EnsureClusterBypass(doc, log)
	tweak.EnsureTunExcludes(doc, opt.TunExcludes, log)

	return out
}
