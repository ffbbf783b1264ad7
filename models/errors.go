package models

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies why a source could not be refreshed
type FailureKind string

const (
	FailureResolution FailureKind = "resolution"
	FailureFetch      FailureKind = "fetch"
	FailureParse      FailureKind = "parse"
	FailureScrape     FailureKind = "scrape"
	FailureUpsert     FailureKind = "upsert"
	FailureUnknown    FailureKind = "unknown"
)

// Failure is the error type returned by the ingestion components
type Failure struct {
	Kind    FailureKind
	Locator string
	Err     error
}

func Fail(kind FailureKind, locator string, err error) *Failure {
	return &Failure{Kind: kind, Locator: locator, Err: err}
}

func (f *Failure) Error() string {
	if f.Locator == "" {
		return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s failure for %s: %v", f.Kind, f.Locator, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind carried by err, or FailureUnknown
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureUnknown
}

var ErrInvalidSource = errors.New("invalid source")

// Validate checks that a source carries the config its kind needs
func (s Source) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSource)
	}
	switch s.Kind {
	case KindScraped:
		if s.ScrapeConfig == nil || strings.TrimSpace(s.ScrapeConfig.URL) == "" {
			return fmt.Errorf("%w: scraped sources need a scrape config with a url", ErrInvalidSource)
		}
	case KindSyndication, KindVideo:
		if strings.TrimSpace(s.Locator) == "" {
			return fmt.Errorf("%w: %s sources need a locator", ErrInvalidSource, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, s.Kind)
	}
	return nil
}
