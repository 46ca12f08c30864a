package profile

import (
	"bytes"
	"testing"
)

func FuzzParse(f *testing.F) {
	seed := []string{
		"",
		"mode: rule\n",
		"port: 7890\nsocks-port: 7891\nredir-port: 7892\n",
		"proxies:\n  - name: a\n    type: ss\nrules:\n  - MATCH,DIRECT\n",
		"dns:\n  enable: true\n  fake-ip-filter:\n    - \"+.lan\"\n",
		"anchor: &a [1, 2]\nref: *a\n",
		"weird: [null, .inf, -.inf, 0x10, \"123\"]\n",
		"外部: 值\n🚀: true\n",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, content string) {
		doc, err := Parse("https://example.com/fuzz.yaml", content)
		if err != nil {
			return
		}

		// Whatever parsed must encode, and the encoded form must be
		// stable under a second round trip.
		out, err := Encode(doc)
		if err != nil {
			t.Fatalf("encode after successful parse: %v", err)
		}
		doc2, err := Parse("https://example.com/fuzz.yaml", string(out))
		if err != nil {
			t.Fatalf("re-parse of encoded output: %v\n%s", err, out)
		}
		out2, err := Encode(doc2)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(out, out2) {
			t.Fatalf("round trip not stable:\n--- first\n%s\n--- second\n%s", out, out2)
		}
	})
}
