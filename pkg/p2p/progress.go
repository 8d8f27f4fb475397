package p2p

import (
    "context"
    "runtime"
)

// Progresser is anything with a progress step, typically a *Worker.
type Progresser interface {
    Progress() int
}

// Advance runs a single progress step.
func Advance(p Progresser) int { return p.Progress() }

// BlockUntil spins on p until every non-nil request has completed or ctx is
// done. The goroutine yields whenever a step processed nothing.
func BlockUntil(ctx context.Context, p Progresser, reqs ...*Request) error {
    for {
        if allCompleted(reqs) { return nil }
        if err := ctx.Err(); err != nil { return err }
        if p.Progress() == 0 { runtime.Gosched() }
    }
}

func allCompleted(reqs []*Request) bool {
    for _, r := range reqs {
        if r != nil && !r.Completed() { return false }
    }
    return true
}
