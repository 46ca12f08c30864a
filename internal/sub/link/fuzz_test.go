package link

import "testing"

func FuzzParseLines(f *testing.F) {
	seed := []string{
		"",
		"   \n",
		"trojan://pw@host.example:443?sni=foo.example&allowInsecure=1#Tag\n",
		"trojan://pw@[::1]:443?type=ws&path=/ws&host=cdn.example\n",
		"vmess://eyJhZGQiOiAiYSIsICJwb3J0IjogIjQ0MyIsICJpZCI6ICJ4In0\n",
		"ss://YWVzLTI1Ni1nY206c2VjcmV0QHNzLmV4YW1wbGU6ODM4OA==#Node\n",
		"ss://aes-128-gcm:p@ss@example.com:8388/?plugin=obfs-local%3Bobfs%3Dhttp#n\n",
		"# comment\nssr://ignored\nrandom text\n",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, content string) {
		proxies, err := ParseLines("https://example.com/sub", content)
		if err != nil {
			return
		}

		for _, p := range proxies {
			m := p.Mapping()
			if m == nil {
				t.Fatalf("proxy is not a mapping")
			}
			typ, _ := m.GetString("type")
			if typ != "trojan" && typ != "vmess" && typ != "ss" {
				t.Fatalf("unexpected proxy type: %q", typ)
			}
			if server, ok := m.GetString("server"); !ok || server == "" {
				t.Fatalf("empty server")
			}
			portVal, ok := m.Get("port")
			if !ok {
				t.Fatalf("missing port")
			}
			port, _ := portVal.Int()
			if port < 1 || port > 65535 {
				t.Fatalf("port out of range: %d", port)
			}
			if udp, ok := m.Get("udp"); !ok {
				t.Fatalf("missing udp")
			} else if b, _ := udp.Bool(); !b {
				t.Fatalf("udp=false, want=true")
			}
		}
	})
}
