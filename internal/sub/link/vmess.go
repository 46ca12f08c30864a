package link

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// parseVMess decodes one vmess:// URI. The payload is base64 JSON in
// the de-facto "v2 share" layout: add/port/id required, everything
// else optional.
func parseVMess(line string) (*model.Value, error) {
	body, err := decodePaddedBase64(strings.TrimPrefix(line, "vmess://"))
	if err != nil {
		return nil, &lineError{message: "vmess 链接 base64 解码失败", cause: err}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, &lineError{message: "vmess 链接不是合法的 JSON", cause: err}
	}

	server, ok := stringField(fields, "add")
	if !ok || server == "" {
		return nil, &lineError{message: "vmess 链接缺少服务器地址（add）"}
	}
	port, err := portField(fields, "port")
	if err != nil {
		return nil, err
	}
	id, ok := stringField(fields, "id")
	if !ok || id == "" {
		return nil, &lineError{message: "vmess 链接缺少用户 ID（id）"}
	}

	// An empty ps is still a deliberate name; only a missing one falls
	// back to the server address.
	name := server
	if ps, ok := stringField(fields, "ps"); ok {
		name = ps
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("vmess"))
	m.Set("server", model.String(server))
	m.Set("port", model.Int(int64(port)))
	m.Set("uuid", model.String(id))
	m.Set("udp", model.Bool(true))

	if aid, ok := alterIDField(fields); ok {
		m.Set("alterId", model.Int(aid))
	}
	cipher, _ := stringField(fields, "scy")
	if cipher == "" {
		cipher, _ = stringField(fields, "cipher")
	}
	if cipher != "" {
		m.Set("cipher", model.String(cipher))
	}
	if tls, ok := stringField(fields, "tls"); ok && (tls == "tls" || tls == "1") {
		m.Set("tls", model.Bool(true))
	}
	if insecureField(fields) {
		m.Set("skip-cert-verify", model.Bool(true))
	}
	if sni, ok := stringField(fields, "sni"); ok && sni != "" {
		m.Set("servername", model.String(sni))
	}
	if fp, ok := stringField(fields, "fp"); ok && fp != "" {
		m.Set("client-fingerprint", model.String(fp))
	}
	if alpn, ok := stringField(fields, "alpn"); ok {
		parts := strings.Split(alpn, ",")
		items := make([]*model.Value, len(parts))
		for i, p := range parts {
			items[i] = model.String(p)
		}
		m.Set("alpn", model.Sequence(items...))
	}
	if network, ok := stringField(fields, "net"); ok && network != "" {
		m.Set("network", model.String(network))
		if network == "ws" {
			opts := model.NewMapping()
			if path, ok := stringField(fields, "path"); ok && path != "" {
				opts.Set("path", model.String(path))
			}
			if host, ok := stringField(fields, "host"); ok && host != "" {
				headers := model.NewMapping()
				headers.Set("Host", model.String(host))
				opts.Set("headers", model.Map(headers))
			}
			if opts.Len() > 0 {
				m.Set("ws-opts", model.Map(opts))
			}
		}
	}
	return model.Map(m), nil
}

func stringField(fields map[string]any, key string) (string, bool) {
	s, ok := fields[key].(string)
	return s, ok
}

// portField accepts the port as a JSON string or an integral number.
func portField(fields map[string]any, key string) (uint16, error) {
	switch v := fields[key].(type) {
	case string:
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil || port < 1 {
			return 0, &lineError{
				message: "vmess 链接端口不合法",
				hint:    "expected: integer in 1..65535",
				cause:   err,
			}
		}
		return uint16(port), nil
	case float64:
		if v != math.Trunc(v) || v < 1 || v > 65535 {
			return 0, &lineError{
				message: "vmess 链接端口不合法",
				hint:    "expected: integer in 1..65535",
			}
		}
		return uint16(v), nil
	case nil:
		return 0, &lineError{message: "vmess 链接缺少端口（port）"}
	default:
		return 0, &lineError{message: "vmess 链接端口不合法", hint: "expected: string or number"}
	}
}

// alterIDField reads aid as a string or a number; unparseable values
// are dropped rather than failing the line.
func alterIDField(fields map[string]any) (int64, bool) {
	switch v := fields["aid"].(type) {
	case string:
		aid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return aid, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func insecureField(fields map[string]any) bool {
	switch v := fields["allowInsecure"].(type) {
	case bool:
		return v
	case string:
		return v == "1"
	default:
		return false
	}
}
