package routes

import (
	"context"

	"github.com/petervdpas/peercall/internal/applog"
	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/storage"
)

// Caller is the call surface the viewer drives. *call.Manager implements it.
type Caller interface {
	Self() call.PeerIdentity
	Status() call.SessionStatus
	Start(ctx context.Context) error
	Call(ctx context.Context, remote call.PeerIdentity) error
	Hangup(ctx context.Context) error
	Reset(ctx context.Context) error
	Subscribe() (<-chan call.Event, func())
}

// History is the read side of the call history. *storage.DB implements it.
type History interface {
	ListCalls(ctx context.Context, limit int) ([]call.CallRecord, error)
	RecentPeers(ctx context.Context, limit int) ([]storage.RecentPeer, error)
}

// LogSource is the in-memory log tail. *applog.Tail implements it.
type LogSource interface {
	Last(n int) []applog.Entry
	Since(seq uint64) []applog.Entry
	Follow() (<-chan applog.Entry, func())
}

type Deps struct {
	Call    Caller
	History History // nil when history is disabled
	Logs    LogSource

	// BaseURL is the canonical viewer URL used in share links.
	BaseURL string
}

var (
	_ Caller    = (*call.Manager)(nil)
	_ History   = (*storage.DB)(nil)
	_ LogSource = (*applog.Tail)(nil)
)
