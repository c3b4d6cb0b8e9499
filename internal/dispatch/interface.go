package dispatch

import "context"

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/skeops/diwatch/internal/dispatch Directory,Channel,Recorder

// Directory supplies the current list of fleet member devEUIs tagged as
// dispatch targets. It is read fresh at the start of every cycle so
// membership changes take effect immediately.
type Directory interface {
	ListMembers(ctx context.Context) ([]string, error)
}

// Channel is the opaque downlink enqueue operation. The per-call timeout is
// carried on ctx by the caller.
type Channel interface {
	Enqueue(ctx context.Context, devEUI string, payload []byte) (string, error)
}

// Recorder persists finished cycles for observability. Record failures are
// logged by the engine, never propagated into the cycle outcome.
type Recorder interface {
	Record(ctx context.Context, cycle *Cycle) error
}
