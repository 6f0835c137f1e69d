package invoke

import (
	"context"

	"github.com/wippyai/interop-bridge/metadata"
)

// Handler receives managed exceptions that the call site did not handle.
type Handler interface {
	HandleUnhandledException(ctx context.Context, exc *Exception)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, exc *Exception)

func (f HandlerFunc) HandleUnhandledException(ctx context.Context, exc *Exception) {
	f(ctx, exc)
}

// Forward hands a managed exception carried by err to h and returns nil.
// Any other error, including nil, is returned unchanged.
func Forward(ctx context.Context, cache *metadata.Cache, err error, h Handler) error {
	if err == nil {
		return nil
	}
	exc, ok := AsException(cache, err)
	if !ok {
		return err
	}
	h.HandleUnhandledException(ctx, exc)
	return nil
}
