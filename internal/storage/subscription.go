package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SubscriptionKind tells the pipeline how a stored source is consumed.
// Only clash payloads can be merged; merge and script entries are
// carried so the file stays shareable with tools that use them.
type SubscriptionKind string

const (
	KindClash  SubscriptionKind = "clash"
	KindMerge  SubscriptionKind = "merge"
	KindScript SubscriptionKind = "script"
)

func (k SubscriptionKind) valid() bool {
	switch k {
	case KindClash, KindMerge, KindScript:
		return true
	}
	return false
}

// Subscription is one stored source: remote (url) or local (path),
// plus the cache validators from the last successful fetch.
type Subscription struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	URL          string           `yaml:"url,omitempty"`
	Path         string           `yaml:"path,omitempty"`
	LastUpdated  *time.Time       `yaml:"last_updated,omitempty"`
	ETag         string           `yaml:"etag,omitempty"`
	LastModified string           `yaml:"last_modified,omitempty"`
	Kind         SubscriptionKind `yaml:"kind"`
	Enabled      bool             `yaml:"enabled"`
}

// UnmarshalYAML fills the defaults older files omit: kind clash,
// enabled true.
func (s *Subscription) UnmarshalYAML(node *yaml.Node) error {
	type plain Subscription
	tmp := plain{Kind: KindClash, Enabled: true}
	if err := node.Decode(&tmp); err != nil {
		return err
	}
	if !tmp.Kind.valid() {
		return fmt.Errorf("unknown subscription kind %q", tmp.Kind)
	}
	*s = Subscription(tmp)
	return nil
}

// EnsureID assigns a stable identity when none is stored: the URL,
// else the path, else a fresh random UUID.
func (s *Subscription) EnsureID() {
	if s.ID != "" {
		return
	}
	switch {
	case s.URL != "":
		s.ID = s.URL
	case s.Path != "":
		s.ID = s.Path
	default:
		s.ID = uuid.NewString()
	}
}

// SubscriptionList is the content of subscriptions.yaml.
type SubscriptionList struct {
	Current string         `yaml:"current,omitempty"`
	Items   []Subscription `yaml:"items"`
}

// Enabled returns pointers into Items so callers can refresh
// validators in place after a fetch.
func (l *SubscriptionList) Enabled() []*Subscription {
	var out []*Subscription
	for i := range l.Items {
		if l.Items[i].Enabled {
			out = append(out, &l.Items[i])
		}
	}
	return out
}

// LoadSubscriptionList reads subscriptions.yaml. A missing file yields
// an empty list which is written back immediately, so the user has a
// file to edit after the first run.
func LoadSubscriptionList(paths *AppPaths) (*SubscriptionList, error) {
	raw, err := os.ReadFile(paths.SubscriptionsFile())
	if errors.Is(err, fs.ErrNotExist) {
		list := &SubscriptionList{}
		if err := SaveSubscriptionList(paths, list); err != nil {
			return nil, err
		}
		return list, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions file: %w", err)
	}
	var list SubscriptionList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse subscriptions file: %w", err)
	}
	return &list, nil
}

func SaveSubscriptionList(paths *AppPaths, list *SubscriptionList) error {
	raw, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode subscriptions file: %w", err)
	}
	if err := os.MkdirAll(paths.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.ConfigDir(), err)
	}
	if err := os.WriteFile(paths.SubscriptionsFile(), raw, 0o644); err != nil {
		return fmt.Errorf("write subscriptions file: %w", err)
	}
	return nil
}

// LoadSubscriptionListFile reads a list from an arbitrary path, for
// callers that point at their own file. Unlike LoadSubscriptionList a
// missing file is not created, it just yields an empty list.
func LoadSubscriptionListFile(path string) (*SubscriptionList, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &SubscriptionList{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions file %s: %w", path, err)
	}
	var list SubscriptionList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse subscriptions file %s: %w", path, err)
	}
	return &list, nil
}

func SaveSubscriptionListFile(path string, list *SubscriptionList) error {
	raw, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode subscriptions file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write subscriptions file %s: %w", path, err)
	}
	return nil
}
