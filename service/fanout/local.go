package fanout

import (
	"context"

	"GateProject/tools/errs"
)

// LocalAdapter serves a single-process gateway: every delivery resolves
// against the local room table, in publish order, with no network in the way.
type LocalAdapter struct {
	sink Sink
}

func NewLocalAdapter(sink Sink) *LocalAdapter {
	return &LocalAdapter{sink: sink}
}

func (a *LocalAdapter) Publish(_ context.Context, ev Event) error {
	a.sink.Deliver(ev)
	return nil
}

func (a *LocalAdapter) RegisterConn(context.Context, string) error   { return nil }
func (a *LocalAdapter) UnregisterConn(context.Context, string) error { return nil }

// LocateConn never finds anything: a connection unknown to this process does
// not exist anywhere.
func (a *LocalAdapter) LocateConn(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (a *LocalAdapter) JoinRemote(_ context.Context, _, connID, _ string) error {
	return errs.ErrRoomResolution.WithDetail("no remote processes in local mode, conn=" + connID)
}

func (a *LocalAdapter) LeaveRemote(_ context.Context, _, connID, _ string) error {
	return errs.ErrRoomResolution.WithDetail("no remote processes in local mode, conn=" + connID)
}

func (a *LocalAdapter) Degraded() bool { return false }
func (a *LocalAdapter) Close() error   { return nil }
