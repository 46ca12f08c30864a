package sub

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/profile"
	"github.com/John-Robertt/mihomoctl-go/internal/sub/link"
)

// Options selects which decode strategies Interpret may try. The
// base64 switch is per call on purpose: whether a payload may be
// base64-wrapped is a property of the source, not of the process.
type Options struct {
	AllowBase64 bool
}

type DecodeError struct {
	AppError model.AppError
	Cause    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// maxControlRunes is the "mostly printable" cutoff for decoded base64
// candidates: more non-whitespace control characters than this means
// the decode produced binary junk, not a config.
const maxControlRunes = 8

// strategy is one decode attempt. A (nil, nil) return means the
// strategy did not apply to this payload at all; an error means it
// applied and the payload is invalid in its terms.
type strategy struct {
	name    string
	enabled bool
	run     func(*attempt) (*model.Document, error)
}

// attempt carries the per-call state shared between strategies, most
// importantly the lazily computed base64 candidate texts.
type attempt struct {
	sourceURL string
	raw       string

	candidates     []string
	haveCandidates bool
}

// Interpret resolves one subscription payload into a Document by
// trying, in order: a direct structured parse, a structured parse of
// every base64 decoding, a share-link parse of every base64 decoding,
// and a share-link parse of the raw text. The base64 strategies run
// only when opt.AllowBase64 is set; the raw share-link parse always
// runs last.
//
// If no strategy produces a document the call fails with a DecodeError
// wrapping the most recent strategy failure.
//
// stage is always "decode_subscription".
func Interpret(sourceURL string, raw string, opt Options) (*model.Document, error) {
	strategies := []strategy{
		{name: "structured", enabled: true, run: runStructured},
		{name: "base64-structured", enabled: opt.AllowBase64, run: runBase64Structured},
		{name: "base64-share-link", enabled: opt.AllowBase64, run: runBase64ShareLink},
		{name: "share-link", enabled: true, run: runShareLink},
	}

	a := &attempt{sourceURL: sourceURL, raw: raw}
	var lastErr error
	for _, s := range strategies {
		if !s.enabled {
			continue
		}
		doc, err := s.run(a)
		if doc != nil {
			return doc, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, &DecodeError{
		AppError: model.AppError{
			Code:    "SUB_DECODE_EXHAUSTED",
			Message: "订阅内容无法识别",
			Stage:   "decode_subscription",
			URL:     sourceURL,
			Hint:    "tried: structured config, base64, share links",
		},
		Cause: lastErr,
	}
}

func runStructured(a *attempt) (*model.Document, error) {
	return profile.Parse(a.sourceURL, a.raw)
}

func runBase64Structured(a *attempt) (*model.Document, error) {
	var lastErr error
	for _, text := range a.base64Candidates() {
		doc, err := profile.Parse(a.sourceURL, text)
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func runBase64ShareLink(a *attempt) (*model.Document, error) {
	for _, text := range a.base64Candidates() {
		proxies, err := link.ParseLines(a.sourceURL, text)
		if err != nil {
			return nil, err
		}
		if len(proxies) > 0 {
			return documentFromProxies(proxies), nil
		}
	}
	return nil, nil
}

func runShareLink(a *attempt) (*model.Document, error) {
	proxies, err := link.ParseLines(a.sourceURL, a.raw)
	if err != nil {
		return nil, err
	}
	if len(proxies) > 0 {
		return documentFromProxies(proxies), nil
	}
	return nil, nil
}

func documentFromProxies(proxies []*model.Value) *model.Document {
	doc := model.NewDocument()
	doc.Proxies = proxies
	return doc
}

// base64Candidates returns the decoded texts worth retrying, in decode
// order with duplicates removed: the whitespace-stripped payload run
// through the standard padded and the URL-safe unpadded alphabets,
// keeping only results that are valid UTF-8 and mostly printable.
func (a *attempt) base64Candidates() []string {
	if a.haveCandidates {
		return a.candidates
	}
	a.haveCandidates = true

	stripped := stripASCIIWhitespace(a.raw)
	seen := make(map[string]bool, 2)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		decoded, err := enc.DecodeString(stripped)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		text := string(decoded)
		if !mostlyPrintable(text) || seen[text] {
			continue
		}
		seen[text] = true
		a.candidates = append(a.candidates, text)
	}
	return a.candidates
}

func stripASCIIWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
}

func mostlyPrintable(s string) bool {
	controls := 0
	for _, r := range s {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			controls++
			if controls > maxControlRunes {
				return false
			}
		}
	}
	return true
}
