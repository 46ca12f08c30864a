package model

// Document is one structured configuration: the fields this tool
// understands plus every other top-level key kept verbatim in
// Extension. The three ports distinguish "absent" from any real value,
// so zero is not abused as a sentinel.
type Document struct {
	Port      *uint16
	SocksPort *uint16
	RedirPort *uint16

	Proxies     []*Value
	ProxyGroups []*Value
	Rules       []string

	// Extension holds the top-level keys that are not one of the five
	// named fields, in the order they first appeared. The named fields
	// are never mirrored here.
	Extension *Mapping
}

func NewDocument() *Document {
	return &Document{Extension: NewMapping()}
}

// Clone returns a deep copy; mutating the copy never touches the
// source.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Port:      cloneUint16(d.Port),
		SocksPort: cloneUint16(d.SocksPort),
		RedirPort: cloneUint16(d.RedirPort),
		Extension: d.Extension.Clone(),
	}
	if out.Extension == nil {
		out.Extension = NewMapping()
	}
	if d.Proxies != nil {
		out.Proxies = make([]*Value, len(d.Proxies))
		for i, p := range d.Proxies {
			out.Proxies[i] = p.Clone()
		}
	}
	if d.ProxyGroups != nil {
		out.ProxyGroups = make([]*Value, len(d.ProxyGroups))
		for i, g := range d.ProxyGroups {
			out.ProxyGroups[i] = g.Clone()
		}
	}
	if d.Rules != nil {
		out.Rules = make([]string, len(d.Rules))
		copy(out.Rules, d.Rules)
	}
	return out
}

// ProxyNames returns the "name" of every proxy entry that is a mapping
// with a string name, in document order. Entries without one are
// skipped.
func (d *Document) ProxyNames() []string {
	return namesOf(d.Proxies)
}

// GroupNames returns the "name" of every proxy group, in document
// order, skipping entries without one.
func (d *Document) GroupNames() []string {
	return namesOf(d.ProxyGroups)
}

func namesOf(entries []*Value) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := e.Mapping().GetString("name"); ok {
			out = append(out, name)
		}
	}
	return out
}

func cloneUint16(p *uint16) *uint16 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
