package tenant

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// Resolver maps an inbound request host to exactly one Tenant, or fails
// closed: an ambiguous or missing tenant context never silently resolves
// to any tenant.
//
// Hosts are parsed into a canonical routing key by an ordered set of
// matchers; the first matcher yielding a syntactically valid key wins:
//   1. subdomain:       <key>.<BaseDomain>
//   2. preview branch:  <key>---<branch>.<PreviewDomain>
//   3. custom domain:   any other host, looked up verbatim
type Resolver struct {
	svc *Service

	baseDomain    string
	previewDomain string

	cacheTTL time.Duration
	cache    sync.Map // routing key -> cacheEntry
	nowFunc  func() time.Time
}

type cacheEntry struct {
	tnt Tenant
	exp time.Time
}

func NewResolver(svc *Service, conf *core.Config) *Resolver {
	return &Resolver{
		svc:           svc,
		baseDomain:    strings.ToLower(conf.BaseDomain),
		previewDomain: strings.ToLower(conf.PreviewDomain),
		cacheTTL:      conf.TenantCacheTTL,
		nowFunc:       time.Now,
	}
}

// Resolve derives the tenant for the given request host.
// Inactive tenants fail with ErrInactive, distinct from ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, host string) (Tenant, error) {
	key, ok := r.routingKey(host)
	if !ok {
		return Tenant{}, ErrNotFound
	}

	if entry, ok := r.cache.Load(key); ok {
		if e := entry.(cacheEntry); r.nowFunc().Before(e.exp) {
			return e.tnt, nil
		}
		r.cache.Delete(key)
	}

	tnt, err := r.svc.GetByRoutingKey(ctx, key)
	if err != nil {
		return Tenant{}, errors.Wrapf(err, "resolving tenant %q", key)
	}
	if !tnt.IsActive {
		return Tenant{}, ErrInactive
	}

	// only positive, active resolutions are cached
	r.cache.Store(key, cacheEntry{tnt: tnt, exp: r.nowFunc().Add(r.cacheTTL)})
	return tnt, nil
}

// routingKey normalizes the host and runs the matchers in order.
func (r *Resolver) routingKey(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", false
	}

	if key, ok := r.matchSubdomain(host); ok {
		return key, true
	}
	if key, ok := r.matchPreview(host); ok {
		return key, true
	}
	return r.matchCustomDomain(host)
}

// matchSubdomain matches <key>.<BaseDomain> with a single leading label.
func (r *Resolver) matchSubdomain(host string) (string, bool) {
	key := strings.TrimSuffix(host, "."+r.baseDomain)
	if key == host || key == "" || strings.Contains(key, ".") {
		return "", false
	}
	return key, validKey(key)
}

// matchPreview matches <key>---<branch>.<PreviewDomain> hosts produced by
// preview deployments; the branch part is ignored.
func (r *Resolver) matchPreview(host string) (string, bool) {
	label := strings.TrimSuffix(host, "."+r.previewDomain)
	if label == host || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	parts := strings.SplitN(label, "---", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", false
	}
	return parts[0], validKey(parts[0])
}

// matchCustomDomain treats any remaining host as a custom-domain routing
// key; bare platform domains never match.
func (r *Resolver) matchCustomDomain(host string) (string, bool) {
	if host == r.baseDomain || host == r.previewDomain {
		return "", false
	}
	if !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

func validKey(key string) bool {
	for _, c := range key {
		if !(c == '-' || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')) {
			return false
		}
	}
	return !strings.HasPrefix(key, "-") && !strings.HasSuffix(key, "-")
}
