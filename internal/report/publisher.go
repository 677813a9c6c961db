// Package report delivers finished verdicts to their consumers.
package report

import (
	"context"
	"encoding/json"
	"errors"

	"coderunner/internal/sandbox/result"
)

// Publisher delivers one verdict. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, verdict result.Verdict) error
}

// MultiPublisher fans a verdict out to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, verdict result.Verdict) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, verdict); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopPublisher drops every verdict.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, verdict result.Verdict) error {
	return nil
}

func encodeVerdict(verdict result.Verdict) ([]byte, error) {
	return json.Marshal(verdict)
}
