package resolver

import (
	"context"
	"regexp"
)

// feedURLStrategy passes through inputs that already are feed locators
type feedURLStrategy struct{}

func (s *feedURLStrategy) Name() string { return "feed-url" }

func (s *feedURLStrategy) Resolve(_ context.Context, raw string) (string, bool, error) {
	if feedURLPattern.MatchString(raw) {
		return raw, true, nil
	}
	return "", false, nil
}

// patternStrategy builds a locator from an id captured in the input
type patternStrategy struct {
	name    string
	pattern *regexp.Regexp
	build   func(id string) string
}

func (s *patternStrategy) Name() string { return s.name }

func (s *patternStrategy) Resolve(_ context.Context, raw string) (string, bool, error) {
	m := s.pattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false, nil
	}
	return s.build(m[1]), true, nil
}

// handleStrategy fetches profile pages for an @handle and scans them for a channel id
type handleStrategy struct {
	resolver *Resolver
}

func (s *handleStrategy) Name() string { return "handle" }

func (s *handleStrategy) Resolve(ctx context.Context, raw string) (string, bool, error) {
	pages, ok := s.resolver.handlePages(raw)
	if !ok {
		return "", false, nil
	}

	id, err := s.resolver.scanPages(ctx, pages)
	if err != nil {
		return "", false, err
	}
	return s.resolver.ChannelFeed(id), true, nil
}

var (
	_ Strategy = (*feedURLStrategy)(nil)
	_ Strategy = (*patternStrategy)(nil)
	_ Strategy = (*handleStrategy)(nil)
)
