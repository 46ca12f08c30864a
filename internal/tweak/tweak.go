package tweak

import (
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// ControllerOverride carries the requested external-controller parts.
// Zero fields mean "keep whatever the document has".
type ControllerOverride struct {
	Host   string
	Port   int
	Secret string
}

// ApplyController rewrites the external-controller line from the
// requested parts overlaid on the existing value, defaulting to
// 127.0.0.1:9090. A requested secret is written to the secret key.
// IPv6 hosts come back bracketed.
func ApplyController(doc *model.Document, o ControllerOverride) {
	if o == (ControllerOverride{}) {
		return
	}

	existingHost, existingPort := "", 0
	if s, ok := doc.Extension.GetString("external-controller"); ok {
		if h, p, ok := splitHostPort(s); ok {
			existingHost, existingPort = h, p
		}
	}

	host := o.Host
	if host == "" {
		host = existingHost
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = existingPort
	}
	if port == 0 {
		port = 9090
	}
	doc.Extension.Set("external-controller", model.String(net.JoinHostPort(host, strconv.Itoa(port))))

	if o.Secret != "" {
		doc.Extension.Set("secret", model.String(o.Secret))
	}
}

func splitHostPort(s string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

// AddFakeIPBypass appends the patterns to dns.fake-ip-filter and
// forces fake-ip-filter-mode to blacklist, since bypass entries are
// meaningless in whitelist mode.
func AddFakeIPBypass(doc *model.Document, patterns []string, log *zap.Logger) {
	if len(patterns) == 0 {
		return
	}
	dns := ensureMapping(doc.Extension, "dns")
	if dns == nil {
		log.Warn("dns is not a mapping; skipping fake-ip bypass")
		return
	}
	filter := ensureSequence(dns, "fake-ip-filter")
	if filter == nil {
		log.Warn("dns.fake-ip-filter is not a sequence; skipping fake-ip bypass")
		return
	}
	for _, p := range patterns {
		filter.Append(model.String(p))
	}

	current, _ := dns.GetString("fake-ip-filter-mode")
	if !strings.EqualFold(current, "blacklist") {
		if current != "" {
			log.Warn("overriding fake-ip-filter-mode to blacklist for bypass entries",
				zap.String("current", current))
		}
		dns.Set("fake-ip-filter-mode", model.String("blacklist"))
	}
}

// SetFakeIPFilterMode writes an explicitly requested filter mode.
// Whitelist is refused while bypass entries were also requested, and
// anything but blacklist/whitelist warns and leaves the document
// alone.
func SetFakeIPFilterMode(doc *model.Document, mode string, bypassRequested bool, log *zap.Logger) {
	m := strings.ToLower(mode)
	if m != "blacklist" && m != "whitelist" {
		log.Warn("invalid fake-ip filter mode (expected blacklist or whitelist)",
			zap.String("value", mode))
		return
	}
	dns := ensureMapping(doc.Extension, "dns")
	if dns == nil {
		log.Warn("dns is not a mapping; skipping fake-ip filter mode")
		return
	}
	if m == "whitelist" && bypassRequested {
		log.Warn("fake-ip bypass entries need blacklist mode; keeping blacklist instead of requested whitelist")
		return
	}
	dns.Set("fake-ip-filter-mode", model.String(m))
}

// EnsureClusterBypass keeps Kubernetes cluster DNS names out of the
// fake-ip range. With tun and dns-hijack active, in-cluster lookups
// like *.svc.cluster.local would otherwise resolve into 198.18.0.0/16
// and break service discovery. Applies only in fake-ip mode when the
// filter mode is not whitelist.
func EnsureClusterBypass(doc *model.Document, log *zap.Logger) {
	dns := ensureMapping(doc.Extension, "dns")
	if dns == nil {
		return
	}
	enhanced, _ := dns.GetString("enhanced-mode")
	if !strings.EqualFold(enhanced, "fake-ip") {
		return
	}
	filterMode, ok := dns.GetString("fake-ip-filter-mode")
	if !ok {
		filterMode = "blacklist"
	}
	if strings.EqualFold(filterMode, "whitelist") {
		return
	}
	filter := ensureSequence(dns, "fake-ip-filter")
	if filter == nil {
		return
	}
	// Cover both the canonical FQDNs and resolver-expanded names
	// (when search domains are appended).
	for _, item := range []string{"+.cluster.local", "*.cluster.local.*"} {
		if sequenceContains(filter, item) {
			continue
		}
		filter.Append(model.String(item))
		log.Info("auto-added fake-ip bypass", zap.String("value", item))
	}
}

// EnsureTunExcludes keeps Kubernetes pod/service CIDRs out of the tun
// device so in-cluster traffic, including DNS to kube-dns, bypasses
// the proxy. Extra entries must look like CIDRs (contain a slash).
func EnsureTunExcludes(doc *model.Document, extra []string, log *zap.Logger) {
	tun := ensureMapping(doc.Extension, "tun")
	if tun == nil {
		return
	}
	seq := ensureSequence(tun, "route-exclude-address")
	if seq == nil {
		return
	}
	cidrs := append([]string{"10.42.0.0/16", "10.43.0.0/16"}, extra...)
	for _, cidr := range cidrs {
		if !strings.Contains(cidr, "/") {
			log.Warn("invalid CIDR for tun exclude (expected like 10.42.0.0/16)",
				zap.String("value", cidr))
			continue
		}
		if sequenceContains(seq, cidr) {
			continue
		}
		seq.Append(model.String(cidr))
		log.Info("auto-added tun route-exclude-address", zap.String("value", cidr))
	}
}

// ensureMapping returns the mapping under key, creating it when the
// key is absent. An existing non-mapping value yields nil.
func ensureMapping(parent *model.Mapping, key string) *model.Mapping {
	if v, ok := parent.Get(key); ok {
		return v.Mapping()
	}
	m := model.NewMapping()
	parent.Set(key, model.Map(m))
	return m
}

// ensureSequence returns the sequence under key, creating it when the
// key is absent. An existing non-sequence value yields nil.
func ensureSequence(parent *model.Mapping, key string) *model.Value {
	if v, ok := parent.Get(key); ok {
		if v.Kind() == model.KindSequence {
			return v
		}
		return nil
	}
	v := model.Sequence()
	parent.Set(key, v)
	return v
}

func sequenceContains(seq *model.Value, s string) bool {
	for _, item := range seq.Items() {
		if t, ok := item.Text(); ok && t == s {
			return true
		}
	}
	return false
}
