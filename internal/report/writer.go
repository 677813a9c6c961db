package report

import (
	"context"
	"io"
	"sync"

	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"
)

// WriterPublisher writes each verdict as one JSON line.
type WriterPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterPublisher creates a publisher writing to w.
func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{w: w}
}

func (p *WriterPublisher) Publish(ctx context.Context, verdict result.Verdict) error {
	data, err := encodeVerdict(verdict)
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "encode verdict failed")
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(data); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "write verdict failed")
	}
	return nil
}
