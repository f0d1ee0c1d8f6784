package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"studio-assistant/internal/integrations/paramstore"
)

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidID reports whether id is a well-formed tenant id. Ids end up in
// parameter names and table keys, so anything else is rejected.
func ValidID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

type cached struct {
	cfg    Config
	loaded time.Time
}

// Loader resolves tenant configuration from Parameter Store. Documents are
// cached for ttl; concurrent misses for one tenant share a single fetch.
type Loader struct {
	params paramstore.Getter
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]cached
}

// NewLoader creates a Loader reading "tenants/<id>" through params.
func NewLoader(params paramstore.Getter, ttl time.Duration) (*Loader, error) {
	if params == nil {
		return nil, errors.New("tenant: params must not be nil")
	}
	return &Loader{params: params, ttl: ttl, now: time.Now, cache: map[string]cached{}}, nil
}

// Get returns the configuration of tenantID.
func (l *Loader) Get(ctx context.Context, tenantID string) (Config, error) {
	if !ValidID(tenantID) {
		return Config{}, fmt.Errorf("tenant: invalid tenant id %q", tenantID)
	}

	l.mu.RLock()
	c, ok := l.cache[tenantID]
	l.mu.RUnlock()
	if ok && l.now().Sub(c.loaded) < l.ttl {
		return c.cfg, nil
	}

	v, err, _ := l.group.Do(tenantID, func() (any, error) {
		doc, err := l.params.GetParameter(ctx, "tenants/"+tenantID)
		if err != nil {
			return Config{}, fmt.Errorf("tenant: load %q: %w", tenantID, err)
		}
		cfg, err := Parse(tenantID, []byte(doc))
		if err != nil {
			return Config{}, err
		}
		l.mu.Lock()
		l.cache[tenantID] = cached{cfg: cfg, loaded: l.now()}
		l.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return Config{}, err
	}
	return v.(Config), nil
}

// Reset drops every cached tenant document.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.cache = map[string]cached{}
	l.mu.Unlock()
}
