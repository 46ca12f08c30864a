package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/mihomoctl-go/internal/fetch"
	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/storage"
	"github.com/John-Robertt/mihomoctl-go/internal/sub"
)

// loadConcurrency bounds how many subscriptions fetch at once.
const loadConcurrency = 4

// remoteTimeout is the per-request budget for one subscription GET.
const remoteTimeout = 30 * time.Second

// Loader resolves subscriptions into documents: remote ones through a
// validator-aware cache under Paths, local ones straight from disk.
type Loader struct {
	Paths       *storage.AppPaths
	UserAgent   string
	AllowBase64 bool
	Log         *zap.Logger
}

func (l *Loader) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// Load resolves every subscription concurrently and returns the
// documents in input order. A subscription that cannot be loaded is
// logged and skipped; only context cancellation aborts the whole load.
// Validators and timestamps are refreshed on the Subscription values
// in place so the caller can persist the list afterwards.
func (l *Loader) Load(ctx context.Context, subs []*storage.Subscription) ([]*model.Document, error) {
	slots := make([]*model.Document, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, s := range subs {
		g.Go(func() error {
			doc, err := l.LoadOne(gctx, s)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.logger().Error("failed to load subscription",
					zap.String("id", s.ID),
					zap.Error(err))
				return nil
			}
			slots[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]*model.Document, 0, len(slots))
	for _, d := range slots {
		if d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// LoadOne resolves a single subscription into a document. Disabled
// subscriptions return (nil, nil).
func (l *Loader) LoadOne(ctx context.Context, s *storage.Subscription) (*model.Document, error) {
	if !s.Enabled {
		return nil, nil
	}
	s.EnsureID()
	if s.Kind != storage.KindClash {
		return nil, fmt.Errorf("subscription kind %q is not supported yet", s.Kind)
	}

	var payload string
	source := s.URL
	switch {
	case s.URL != "":
		body, err := l.fetchRemote(ctx, s)
		if err != nil {
			return nil, err
		}
		payload = body
	case s.Path != "":
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("read subscription file %s: %w", s.Path, err)
		}
		touch(s)
		payload = string(raw)
		source = s.Path
	default:
		return nil, fmt.Errorf("subscription %s has neither url nor path", s.ID)
	}

	return sub.Interpret(source, payload, sub.Options{AllowBase64: l.AllowBase64})
}

// fetchRemote performs the conditional GET for s and keeps the local
// cache in sync: a fresh body is cached together with its validators,
// a 304 answer is served from the cache, and any fetch failure falls
// back to the cached body when one exists. On every successful return
// the subscription's validators and last-updated time are refreshed in
// place.
func (l *Loader) fetchRemote(ctx context.Context, s *storage.Subscription) (string, error) {
	meta := storage.LoadCacheMeta(l.Paths, s.ID)

	etag := s.ETag
	if etag == "" {
		etag = meta.ETag
	}
	lastModified := s.LastModified
	if lastModified == "" {
		lastModified = meta.LastModified
	}

	res, err := fetch.FetchWithOptions(ctx, fetch.KindSubscription, s.URL, fetch.Options{
		Timeout:      remoteTimeout,
		UserAgent:    l.UserAgent,
		ETag:         etag,
		LastModified: lastModified,
	})
	if err != nil {
		cached, ok, cacheErr := storage.LoadCachePayload(l.Paths, s.ID)
		if cacheErr == nil && ok {
			l.logger().Warn("fetch failed, using cached subscription",
				zap.String("id", s.ID),
				zap.Error(err))
			refreshValidators(s, meta.ETag, meta.LastModified)
			return cached, nil
		}
		return "", err
	}

	if res.NotModified {
		cached, ok, cacheErr := storage.LoadCachePayload(l.Paths, s.ID)
		if cacheErr != nil {
			return "", cacheErr
		}
		if !ok {
			return "", fmt.Errorf("remote responded 304 but cache for %s is missing", s.ID)
		}
		refreshValidators(s, meta.ETag, meta.LastModified)
		return cached, nil
	}

	body := string(res.Body)
	if err := storage.SaveCachePayload(l.Paths, s.ID, body, storage.CacheMeta{
		ETag:         res.ETag,
		LastModified: res.LastModified,
	}); err != nil {
		return "", fmt.Errorf("cache subscription %s: %w", s.ID, err)
	}

	newETag := res.ETag
	if newETag == "" {
		newETag = meta.ETag
	}
	newLastModified := res.LastModified
	if newLastModified == "" {
		newLastModified = meta.LastModified
	}
	refreshValidators(s, newETag, newLastModified)
	return body, nil
}

// refreshValidators updates the in-memory validators; empty values
// never erase known ones.
func refreshValidators(s *storage.Subscription, etag, lastModified string) {
	if etag != "" {
		s.ETag = etag
	}
	if lastModified != "" {
		s.LastModified = lastModified
	}
	touch(s)
}

func touch(s *storage.Subscription) {
	now := time.Now().UTC()
	s.LastUpdated = &now
}
