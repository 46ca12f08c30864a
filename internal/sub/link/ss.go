package link

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// parseSS decodes one ss:// URI. The body is either plain
// method:password@host:port (anything containing '@') or base64 of
// that same layout.
func parseSS(line string) (*model.Value, error) {
	rest := strings.TrimPrefix(line, "ss://")

	// Fragment: percent-decoded display name.
	var name string
	if body, tag, found := strings.Cut(rest, "#"); found {
		rest = body
		decoded, err := url.PathUnescape(tag)
		if err != nil {
			return nil, &lineError{message: "ss 链接名称解码失败", cause: err}
		}
		name = decoded
	}

	// Query: only the plugin= portion is kept, verbatim.
	var plugin string
	if body, query, found := strings.Cut(rest, "?"); found {
		rest = body
		if i := strings.Index(query, "plugin="); i >= 0 {
			plugin = query[i+len("plugin="):]
		}
	}
	rest = strings.TrimSuffix(rest, "/")

	// Without '@' the whole body is base64.
	if !strings.Contains(rest, "@") {
		decoded, err := decodePaddedBase64(rest)
		if err != nil {
			return nil, &lineError{message: "ss 链接 base64 解码失败", cause: err}
		}
		rest = decoded
	}

	creds, address, found := cutLast(rest, "@")
	if !found {
		return nil, &lineError{message: "ss 链接缺少 @ 分隔的地址部分"}
	}
	method, password, found := strings.Cut(creds, ":")
	if !found {
		return nil, &lineError{
			message: "ss 链接缺少加密方式或密码",
			hint:    "expected: method:password@host:port",
		}
	}
	server, port, err := parseHostPort(address)
	if err != nil {
		return nil, &lineError{message: "ss 链接地址不合法", cause: err}
	}

	if name == "" {
		name = net.JoinHostPort(server, strconv.FormatUint(uint64(port), 10))
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("ss"))
	m.Set("server", model.String(server))
	m.Set("port", model.Int(int64(port)))
	m.Set("cipher", model.String(method))
	m.Set("password", model.String(password))
	m.Set("udp", model.Bool(true))
	if plugin != "" {
		m.Set("plugin", model.String(plugin))
	}
	return model.Map(m), nil
}

// cutLast is strings.Cut splitting on the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
