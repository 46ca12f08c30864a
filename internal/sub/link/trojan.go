package link

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

// parseTrojan decodes one trojan:// URI into a proxy mapping.
func parseTrojan(line string) (*model.Value, error) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, &lineError{message: "trojan 链接不是合法的 URI", cause: err}
	}

	server := u.Hostname()
	if server == "" {
		return nil, &lineError{message: "trojan 链接缺少主机名"}
	}
	portStr := u.Port()
	if portStr == "" {
		return nil, &lineError{message: "trojan 链接缺少端口"}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port < 1 {
		return nil, &lineError{
			message: "trojan 链接端口不合法",
			hint:    "expected: integer in 1..65535",
			cause:   err,
		}
	}
	password := u.User.Username()

	name := u.Fragment
	if name == "" {
		name = net.JoinHostPort(server, portStr)
	}

	var (
		sni      string
		alpn     []string
		insecure bool
		network  string
		wsPath   string
		wsHost   string
	)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		switch key {
		case "sni", "peer":
			sni = value
		case "alpn":
			alpn = alpn[:0]
			for _, p := range strings.Split(value, ",") {
				if p = strings.TrimSpace(p); p != "" {
					alpn = append(alpn, p)
				}
			}
		case "allowInsecure":
			if value == "1" || strings.EqualFold(value, "true") {
				insecure = true
			}
		case "type":
			network = value
		case "path":
			wsPath = value
		case "host", "hostHeader":
			wsHost = value
		}
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("trojan"))
	m.Set("server", model.String(server))
	m.Set("port", model.Int(int64(port)))
	m.Set("password", model.String(password))
	m.Set("udp", model.Bool(true))
	if sni != "" {
		m.Set("sni", model.String(sni))
	}
	if len(alpn) > 0 {
		items := make([]*model.Value, len(alpn))
		for i, p := range alpn {
			items[i] = model.String(p)
		}
		m.Set("alpn", model.Sequence(items...))
	}
	if insecure {
		m.Set("skip-cert-verify", model.Bool(true))
	}
	if network != "" {
		m.Set("network", model.String(network))
		if network == "ws" {
			opts := model.NewMapping()
			if wsPath != "" {
				opts.Set("path", model.String(wsPath))
			}
			if wsHost != "" {
				headers := model.NewMapping()
				headers.Set("Host", model.String(wsHost))
				opts.Set("headers", model.Map(headers))
			}
			if opts.Len() > 0 {
				m.Set("ws-opts", model.Map(opts))
			}
		}
	}
	return model.Map(m), nil
}
