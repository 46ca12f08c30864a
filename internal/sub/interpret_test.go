package sub

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/John-Robertt/mihomoctl-go/internal/sub/link"
)

const structuredPayload = `port: 7890
proxies:
  - name: node-a
    type: ss
    server: a.example.com
    port: 8388
rules:
  - MATCH,DIRECT
`

func TestInterpret_Structured(t *testing.T) {
	doc, err := Interpret("https://example.com/sub", structuredPayload, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Port == nil || *doc.Port != 7890 {
		t.Fatalf("port=%v, want=7890", doc.Port)
	}
	if got := doc.ProxyNames(); len(got) != 1 || got[0] != "node-a" {
		t.Fatalf("proxy names=%v", got)
	}
}

func TestInterpret_Base64Structured(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(structuredPayload))
	// Subscription endpoints often wrap the base64 across lines.
	wrapped := ""
	for i := 0; i < len(encoded); i += 16 {
		end := i + 16
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped += encoded[i:end] + "\n"
	}

	doc, err := Interpret("https://example.com/sub", wrapped, Options{AllowBase64: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Port == nil || *doc.Port != 7890 {
		t.Fatalf("port=%v, want=7890", doc.Port)
	}
}

func TestInterpret_Base64DisabledStaysOpaque(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(structuredPayload))
	_, err := Interpret("https://example.com/sub", encoded, Options{})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
	if de.AppError.Code != "SUB_DECODE_EXHAUSTED" {
		t.Fatalf("code=%q, want=%q", de.AppError.Code, "SUB_DECODE_EXHAUSTED")
	}
	if de.AppError.Stage != "decode_subscription" {
		t.Fatalf("stage=%q, want=%q", de.AppError.Stage, "decode_subscription")
	}
}

func TestInterpret_Base64ShareLinks(t *testing.T) {
	links := strings.Join([]string{
		"trojan://pw@host.example:443#A",
		"ss://" + base64.StdEncoding.EncodeToString([]byte("aes-256-gcm:secret@ss.example:8388")) + "#B",
	}, "\n")
	encoded := base64.StdEncoding.EncodeToString([]byte(links))

	doc, err := Interpret("https://example.com/sub", encoded, Options{AllowBase64: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.ProxyNames(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("proxy names=%v, want=[A B]", got)
	}
	if doc.Port != nil || len(doc.Rules) != 0 || len(doc.ProxyGroups) != 0 {
		t.Fatalf("share-link documents carry only proxies")
	}
}

func TestInterpret_URLSafeBase64(t *testing.T) {
	links := "trojan://pw@host.example:443?sni=foo.example#Tag\n"
	encoded := base64.RawURLEncoding.EncodeToString([]byte(links))

	doc, err := Interpret("https://example.com/sub", encoded, Options{AllowBase64: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.ProxyNames(); len(got) != 1 || got[0] != "Tag" {
		t.Fatalf("proxy names=%v, want=[Tag]", got)
	}
}

func TestInterpret_RawShareLinksWithoutBase64(t *testing.T) {
	doc, err := Interpret("https://example.com/sub", "trojan://pw@h.example:443#n\n", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.ProxyNames(); len(got) != 1 || got[0] != "n" {
		t.Fatalf("proxy names=%v, want=[n]", got)
	}
}

func TestInterpret_ExhaustedWrapsLastFailure(t *testing.T) {
	// Recognized trojan line with a missing port: the share-link
	// strategy applies and fails, and that failure must survive in the
	// error chain.
	_, err := Interpret("https://example.com/sub", "trojan://pw@host.example\n", Options{AllowBase64: true})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
	var le *link.LinkError
	if !errors.As(err, &le) {
		t.Fatalf("cause chain misses *link.LinkError: %v", err)
	}
	if le.Family != "trojan" {
		t.Fatalf("family=%q, want=%q", le.Family, "trojan")
	}
}

func TestInterpret_PlainTextExhausted(t *testing.T) {
	for _, raw := range []string{"", "hello world\n", "42"} {
		_, err := Interpret("https://example.com/sub", raw, Options{AllowBase64: true})
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("input %q: expected *DecodeError, got %T: %v", raw, err, err)
		}
		if de.Cause == nil {
			t.Fatalf("input %q: cause should carry the last strategy failure", raw)
		}
	}
}

func TestBase64Candidates(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"both alphabets agree", "aGVsbG8h", 1},
		{"standard padded only", "aGVsbG8=", 1},
		{"url-safe unpadded only", base64.RawURLEncoding.EncodeToString([]byte("hello?~")), 1},
		{"not base64", "!!! not base64 !!!", 0},
		{"binary junk dropped", "//79/A==", 0},
		{"control characters over limit", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("\x01", 9))), 0},
		{"control characters at limit", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("\x01", 8))), 1},
	}
	for _, tc := range cases {
		a := &attempt{raw: tc.raw}
		got := a.base64Candidates()
		if len(got) != tc.want {
			t.Fatalf("%s: candidates=%d, want=%d (%q)", tc.name, len(got), tc.want, got)
		}
	}
}
