package llm

import (
	"context"

	"github.com/vinayprograms/trialkit/cache"
)

// CachedProvider serves repeated requests from a response cache. Only
// successful responses are stored.
type CachedProvider struct {
	next  Provider
	cache *cache.Cache
	model string
}

// WithCache wraps p with c. model is the cache key model when a request
// does not name one. A nil c passes every request through to p.
func WithCache(p Provider, c *cache.Cache, model string) *CachedProvider {
	return &CachedProvider{next: p, cache: c, model: model}
}

// CacheInput is the content half of a cache key for req.
func CacheInput(req Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}

// Complete implements Provider.
func (p *CachedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if p.cache == nil {
		return p.next.Complete(ctx, req)
	}
	model := requestModel(req, p.model)
	input := CacheInput(req)

	// Cached replies report zero tokens: nothing was spent on them.
	if payload, _, ok := p.cache.Get(model, input); ok {
		return &Response{
			Content:    payload,
			Model:      model,
			Cached:     true,
			StopReason: "cached",
		}, nil
	}

	resp, err := p.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	p.cache.Put(model, input, resp.Content, resp.TotalTokens())
	return resp, nil
}
