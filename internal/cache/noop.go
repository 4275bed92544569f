package cache

import (
	"context"
	"time"
)

// Noop disables caching. Every lookup misses and writes are discarded,
// which forces callers onto the authoritative store on every request.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Delete(context.Context, string)                     {}
func (Noop) Has(context.Context, string) bool                   { return false }
func (Noop) ClearPrefix(context.Context, string)                {}
func (Noop) Clear(context.Context)                              {}
func (Noop) Stats() Stats                                       { return Stats{} }
func (Noop) Close() error                                       { return nil }

var _ Cache = Noop{}
