package pipeline

import (
	"context"

	"github.com/gogpu/vision/gpucore"
)

// Future is the pending part of a node task, typically a readback from
// the GPU. The scheduler awaits it before executing the next node.
type Future interface {
	Await(ctx context.Context) error
}

// FutureFunc adapts a function to Future.
type FutureFunc func(ctx context.Context) error

// Await implements Future.
func (f FutureFunc) Await(ctx context.Context) error { return f(ctx) }

// AfterReadback returns a Future that waits for rb and hands its data to fn.
func AfterReadback(rb *gpucore.Readback, fn func(data []byte) error) Future {
	return FutureFunc(func(ctx context.Context) error {
		data, err := rb.Wait(ctx)
		if err != nil {
			return err
		}
		return fn(data)
	})
}
