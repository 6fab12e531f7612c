package transcode

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/semaphore"

	"github.com/imgpress/service/internal/imageformat"
)

// Pool bounds how many transcodes run at once so a burst of uploads cannot
// starve request intake of CPU.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
}

// NewPool creates a pool allowing workers concurrent transcodes. A
// non-positive value uses runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Transcode waits for a free slot and runs Transcode. It returns ctx.Err() if
// the context ends while waiting. A panic inside a codec is returned as an
// error instead of taking the process down.
func (p *Pool) Transcode(ctx context.Context, data []byte, f imageformat.Format) (img *Image, err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = fmt.Errorf("transcode %s panicked: %v\n%s", f.MimeType, rec, debug.Stack())
		}
	}()
	return Transcode(data, f)
}
