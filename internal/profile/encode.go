package profile

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// Encode renders doc back to YAML text. Extension keys come first in
// their original order, then the ports that are set, then proxies,
// proxy-groups and rules, which are always emitted even when empty.
// This mirrors the layout consumers of the generated file expect.
func Encode(doc *model.Document) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, key := range doc.Extension.Keys() {
		v, _ := doc.Extension.Get(key)
		root.Content = append(root.Content, strNode(key), nodeFromValue(v))
	}
	appendPortNode(root, "port", doc.Port)
	appendPortNode(root, "socks-port", doc.SocksPort)
	appendPortNode(root, "redir-port", doc.RedirPort)

	root.Content = append(root.Content, strNode("proxies"), seqOfValues(doc.Proxies))
	root.Content = append(root.Content, strNode("proxy-groups"), seqOfValues(doc.ProxyGroups))

	rules := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, r := range doc.Rules {
		rules.Content = append(rules.Content, strNode(r))
	}
	root.Content = append(root.Content, strNode("rules"), rules)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func appendPortNode(root *yaml.Node, key string, port *uint16) {
	if port == nil {
		return
	}
	root.Content = append(root.Content, strNode(key), &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: strconv.FormatUint(uint64(*port), 10),
	})
}

func seqOfValues(items []*model.Value) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, item := range items {
		n.Content = append(n.Content, nodeFromValue(item))
	}
	return n
}

func nodeFromValue(v *model.Value) *yaml.Node {
	switch v.Kind() {
	case model.KindBool:
		b, _ := v.Bool()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
	case model.KindInt:
		i, _ := v.Int()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
	case model.KindFloat:
		f, _ := v.Float()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(f)}
	case model.KindString:
		s, _ := v.Text()
		return strNode(s)
	case model.KindSequence:
		return seqOfValues(v.Items())
	case model.KindMapping:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		m := v.Mapping()
		for _, key := range m.Keys() {
			item, _ := m.Get(key)
			n.Content = append(n.Content, strNode(key), nodeFromValue(item))
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// Keep the scalar resolvable as a float on the way back in.
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
