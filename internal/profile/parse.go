package profile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

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

// nodeError carries position and hint for a failure inside the YAML
// tree. Parse converts it into a ParseError with url/stage attached.
type nodeError struct {
	line    int
	message string
	hint    string
	cause   error
}

func (e *nodeError) Error() string { return e.message }
func (e *nodeError) Unwrap() error { return e.cause }

// Parse decodes one YAML document into a Document. The five named
// fields (port, socks-port, redir-port, proxies, proxy-groups, rules)
// may all be absent; every other top-level key is kept verbatim in
// Extension, in source order.
//
// stage is always "parse_config".
func Parse(sourceURL string, content string) (*model.Document, error) {
	content = stripUTF8BOM(content)

	dec := yaml.NewDecoder(strings.NewReader(content))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, newParseError(sourceURL, 0, "",
				"CONFIG_PARSE_ERROR", "配置内容为空", "", nil)
		}
		return nil, newParseError(sourceURL, 0, "",
			"CONFIG_PARSE_ERROR", "配置不是合法的 YAML", "", err)
	}
	// Reject multi-document inputs.
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, newParseError(sourceURL, extra.Line, "",
			"CONFIG_PARSE_ERROR", "配置包含多个 YAML 文档",
			"remove the extra --- separated documents", nil)
	} else if !errors.Is(err, io.EOF) {
		return nil, newParseError(sourceURL, 0, "",
			"CONFIG_PARSE_ERROR", "配置不是合法的 YAML", "", err)
	}

	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) == 1 {
		top = resolveAlias(top.Content[0])
	}
	if top.Kind != yaml.MappingNode {
		return nil, newParseError(sourceURL, top.Line, lineSnippet(content, top.Line),
			"CONFIG_VALIDATE_ERROR", "配置顶层必须是映射",
			"expected: top-level YAML mapping", nil)
	}

	doc := model.NewDocument()
	active := make(map[*yaml.Node]bool)
	seen := make(map[string]bool, len(top.Content)/2)
	for i := 0; i+1 < len(top.Content); i += 2 {
		keyNode := top.Content[i]
		valNode := resolveAlias(top.Content[i+1])
		if keyNode.Kind != yaml.ScalarNode {
			return nil, newParseError(sourceURL, keyNode.Line, lineSnippet(content, keyNode.Line),
				"CONFIG_VALIDATE_ERROR", "顶层键必须是标量", "", nil)
		}
		key := keyNode.Value
		if seen[key] {
			return nil, newParseError(sourceURL, keyNode.Line, lineSnippet(content, keyNode.Line),
				"CONFIG_VALIDATE_ERROR", fmt.Sprintf("重复的顶层键：%s", key), "", nil)
		}
		seen[key] = true

		var err error
		switch key {
		case "port":
			doc.Port, err = portFromNode(valNode)
		case "socks-port":
			doc.SocksPort, err = portFromNode(valNode)
		case "redir-port":
			doc.RedirPort, err = portFromNode(valNode)
		case "proxies":
			doc.Proxies, err = sequenceFromNode(valNode, "proxies", active)
		case "proxy-groups":
			doc.ProxyGroups, err = sequenceFromNode(valNode, "proxy-groups", active)
		case "rules":
			doc.Rules, err = rulesFromNode(valNode)
		default:
			var v *model.Value
			v, err = valueFromNode(valNode, active)
			if err == nil {
				doc.Extension.Set(key, v)
			}
		}
		if err != nil {
			var ne *nodeError
			if errors.As(err, &ne) {
				return nil, newParseError(sourceURL, ne.line, lineSnippet(content, ne.line),
					"CONFIG_VALIDATE_ERROR", ne.message, ne.hint, ne.cause)
			}
			return nil, newParseError(sourceURL, valNode.Line, lineSnippet(content, valNode.Line),
				"CONFIG_VALIDATE_ERROR", fmt.Sprintf("配置键 %s 不合法", key), "", err)
		}
	}
	return doc, nil
}

func portFromNode(n *yaml.Node) (*uint16, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, &nodeError{line: n.Line, message: "端口必须是整数", hint: "expected: integer in 0..65535"}
	}
	switch n.Tag {
	case "!!null":
		return nil, nil
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil || v < 0 || v > 65535 {
			return nil, &nodeError{
				line:    n.Line,
				message: fmt.Sprintf("端口超出范围：%s", n.Value),
				hint:    "expected: integer in 0..65535",
				cause:   err,
			}
		}
		p := uint16(v)
		return &p, nil
	default:
		return nil, &nodeError{line: n.Line, message: "端口必须是整数", hint: "expected: integer in 0..65535"}
	}
}

func sequenceFromNode(n *yaml.Node, key string, active map[*yaml.Node]bool) ([]*model.Value, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, &nodeError{
			line:    n.Line,
			message: fmt.Sprintf("%s 必须是序列", key),
			hint:    "expected: YAML sequence",
		}
	}
	out := make([]*model.Value, 0, len(n.Content))
	for _, c := range n.Content {
		v, err := valueFromNode(c, active)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func rulesFromNode(n *yaml.Node) ([]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, &nodeError{
			line:    n.Line,
			message: "rules 必须是序列",
			hint:    "expected: YAML sequence of strings",
		}
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		item := resolveAlias(c)
		if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
			return nil, &nodeError{
				line:    item.Line,
				message: "规则必须是字符串",
				hint:    "expected: KIND,TARGET,DESTINATION",
			}
		}
		out = append(out, item.Value)
	}
	return out, nil
}

// valueFromNode converts an arbitrary YAML node into a Value,
// resolving aliases and preserving mapping key order. active tracks
// the nodes on the current path; the node graph can contain cycles
// through anchors that reference themselves.
func valueFromNode(n *yaml.Node, active map[*yaml.Node]bool) (*model.Value, error) {
	n = resolveAlias(n)
	if active[n] {
		return nil, &nodeError{line: n.Line, message: "检测到循环引用的锚点"}
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return scalarFromNode(n), nil
	case yaml.SequenceNode:
		active[n] = true
		defer delete(active, n)
		items := make([]*model.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := valueFromNode(c, active)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return model.Sequence(items...), nil
	case yaml.MappingNode:
		active[n] = true
		defer delete(active, n)
		m := model.NewMapping()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode := n.Content[i]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, &nodeError{line: keyNode.Line, message: "映射键必须是标量"}
			}
			if m.Has(keyNode.Value) {
				return nil, &nodeError{
					line:    keyNode.Line,
					message: fmt.Sprintf("重复的键：%s", keyNode.Value),
				}
			}
			v, err := valueFromNode(n.Content[i+1], active)
			if err != nil {
				return nil, err
			}
			m.Set(keyNode.Value, v)
		}
		return model.Map(m), nil
	default:
		return nil, &nodeError{line: n.Line, message: "不支持的 YAML 节点"}
	}
}

func scalarFromNode(n *yaml.Node) *model.Value {
	switch n.Tag {
	case "!!null":
		return model.Null()
	case "!!bool":
		switch strings.ToLower(n.Value) {
		case "true":
			return model.Bool(true)
		case "false":
			return model.Bool(false)
		}
		return model.String(n.Value)
	case "!!int":
		if v, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return model.Int(v)
		}
		// Integers beyond int64 keep their magnitude as floats.
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return model.Float(f)
		}
		return model.String(n.Value)
	case "!!float":
		switch strings.ToLower(n.Value) {
		case ".inf", "+.inf":
			return model.Float(math.Inf(1))
		case "-.inf":
			return model.Float(math.Inf(-1))
		case ".nan":
			return model.Float(math.NaN())
		}
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return model.Float(f)
		}
		return model.String(n.Value)
	default:
		// Timestamps, binary and custom tags stay as literal text.
		return model.String(n.Value)
	}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func newParseError(sourceURL string, line int, snippet, code, message, hint string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_config",
			URL:     sourceURL,
			Line:    line,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}

func lineSnippet(content string, line int) string {
	if line <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if line > len(lines) {
		return ""
	}
	return truncateSnippet(lines[line-1], 200)
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
