package link

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
)

type LinkError struct {
	Family   string // "trojan" | "vmess" | "ss"
	AppError model.AppError
	Cause    error
}

func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *LinkError) Unwrap() error { return e.Cause }

// lineError carries the family-specific failure for one line. ParseLines
// attaches url/line/snippet and wraps it into a LinkError.
type lineError struct {
	message string
	hint    string
	cause   error
}

func (e *lineError) Error() string { return e.message }
func (e *lineError) Unwrap() error { return e.cause }

// ParseLines scans text line by line and decodes every line whose
// scheme it recognizes (trojan://, vmess://, ss://) into a proxy
// mapping. Lines with any other scheme, plain text or comments are
// skipped silently.
//
// A (nil, nil) return means no line was recognized at all; the caller
// treats that as "this payload is not a share-link list". One malformed
// recognized line fails the whole call: bad credentials are a hard
// stop, not a skip.
//
// stage is always "parse_share_link".
func ParseLines(sourceURL string, text string) ([]*model.Value, error) {
	var out []*model.Value
	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}

		var (
			family string
			proxy  *model.Value
			err    error
		)
		switch {
		case strings.HasPrefix(line, "trojan://"):
			family = "trojan"
			proxy, err = parseTrojan(line)
		case strings.HasPrefix(line, "vmess://"):
			family = "vmess"
			proxy, err = parseVMess(line)
		case strings.HasPrefix(line, "ss://"):
			family = "ss"
			proxy, err = parseSS(line)
		default:
			continue
		}
		if err != nil {
			return nil, newLinkError(family, sourceURL, i+1, raw, err)
		}
		out = append(out, proxy)
	}
	return out, nil
}

func newLinkError(family string, sourceURL string, line int, raw string, err error) *LinkError {
	var le *lineError
	if !errors.As(err, &le) {
		le = &lineError{message: fmt.Sprintf("%s 链接解析失败", family), cause: err}
	}
	return &LinkError{
		Family: family,
		AppError: model.AppError{
			Code:    "SHARE_LINK_PARSE_ERROR",
			Message: le.message,
			Stage:   "parse_share_link",
			URL:     sourceURL,
			Line:    line,
			Snippet: truncateSnippet(raw, 200),
			Hint:    le.hint,
		},
		Cause: le.cause,
	}
}

// parseHostPort splits "host:port" (IPv6 hosts in brackets) and
// validates the port range.
func parseHostPort(hostport string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port < 1 {
		return "", 0, fmt.Errorf("invalid port: %q", portStr)
	}
	return host, uint16(port), nil
}

func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		return s + strings.Repeat("=", 4-m)
	}
	return s
}

// decodePaddedBase64 right-pads to a multiple of 4, decodes with the
// standard alphabet and requires the result to be valid UTF-8.
func decodePaddedBase64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(padBase64(s))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.New("decoded content is not valid utf-8")
	}
	return string(raw), nil
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
