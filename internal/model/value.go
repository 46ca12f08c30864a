package model

import "fmt"

// Kind discriminates the payload carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one YAML value: a scalar, a sequence, or a mapping.
// Proxies, proxy groups and extension values are kept in this form so
// that fields this tool does not understand survive a round trip
// unchanged.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	seq  []*Value
	m    *Mapping
}

func Null() *Value           { return &Value{kind: KindNull} }
func Bool(v bool) *Value     { return &Value{kind: KindBool, b: v} }
func Int(v int64) *Value     { return &Value{kind: KindInt, i: v} }
func Float(v float64) *Value { return &Value{kind: KindFloat, f: v} }
func String(v string) *Value { return &Value{kind: KindString, s: v} }
func Map(m *Mapping) *Value  { return &Value{kind: KindMapping, m: m} }
func Sequence(items ...*Value) *Value {
	return &Value{kind: KindSequence, seq: items}
}

func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// Bool returns the payload when the value is a bool scalar.
func (v *Value) Bool() (bool, bool) {
	if v == nil || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Int returns the payload when the value is an integer scalar.
func (v *Value) Int() (int64, bool) {
	if v == nil || v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// Float returns the payload when the value is a float scalar.
func (v *Value) Float() (float64, bool) {
	if v == nil || v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// Text returns the payload when the value is a string scalar.
func (v *Value) Text() (string, bool) {
	if v == nil || v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Items returns the element slice when the value is a sequence.
// The slice is the value's own storage; callers that need an
// independent copy must Clone first.
func (v *Value) Items() []*Value {
	if v == nil || v.kind != KindSequence {
		return nil
	}
	return v.seq
}

// Append adds elements to a sequence value. Other kinds are left
// untouched.
func (v *Value) Append(items ...*Value) {
	if v == nil || v.kind != KindSequence {
		return
	}
	v.seq = append(v.seq, items...)
}

// Mapping returns the mapping payload, or nil for any other kind.
func (v *Value) Mapping() *Mapping {
	if v == nil || v.kind != KindMapping {
		return nil
	}
	return v.m
}

// Clone returns a deep copy. Scalars share nothing with the source;
// sequences and mappings are copied element by element.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	out := &Value{kind: v.kind, b: v.b, i: v.i, f: v.f, s: v.s}
	if v.seq != nil {
		out.seq = make([]*Value, len(v.seq))
		for i, item := range v.seq {
			out.seq[i] = item.Clone()
		}
	}
	if v.m != nil {
		out.m = v.m.Clone()
	}
	return out
}

// Mapping is an insertion-ordered string-keyed map. Serialization and
// merging both depend on the order keys first appeared, so a plain Go
// map is not enough here.
type Mapping struct {
	keys   []string
	values []*Value
	index  map[string]int
}

func NewMapping() *Mapping {
	return &Mapping{index: make(map[string]int)}
}

func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order. The slice is the mapping's
// own storage and must not be mutated.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

func (m *Mapping) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[key]
	return ok
}

func (m *Mapping) Get(key string) (*Value, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

// GetString returns the entry under key when it is a string scalar.
func (m *Mapping) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.Text()
}

// Set stores value under key. An existing entry is replaced in place
// and keeps its original position; a new entry is appended.
func (m *Mapping) Set(key string, value *Value) {
	if i, ok := m.index[key]; ok {
		m.values[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// SetIfAbsent stores value under key only when the key is not present
// yet. It reports whether the entry was inserted.
func (m *Mapping) SetIfAbsent(key string, value *Value) bool {
	if _, ok := m.index[key]; ok {
		return false
	}
	m.Set(key, value)
	return true
}

// Clone returns a deep copy preserving key order.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	out := &Mapping{
		keys:   make([]string, len(m.keys)),
		values: make([]*Value, len(m.values)),
		index:  make(map[string]int, len(m.index)),
	}
	copy(out.keys, m.keys)
	for i, v := range m.values {
		out.values[i] = v.Clone()
	}
	for k, i := range m.index {
		out.index[k] = i
	}
	return out
}
