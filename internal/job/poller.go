// Package job runs the polling loop. One cycle at a time on one goroutine;
// if a cycle overruns the interval the next tick waits rather than stacking.
package job

import (
	"context"
	"log"
	"sync"
	"time"

	"forum-alpha/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// State is the poller's externally visible phase, exposed on the status
// endpoint and logged on every transition.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running_cycle"
	StateSleeping State = "sleeping"
	StateStopped  State = "stopped"
)

type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (domain.CycleResult, error)
}

type Poller struct {
	tracer       trace.Tracer
	runner       CycleRunner
	pollInterval time.Duration

	mu        sync.Mutex
	state     State
	lastCycle time.Time
	lastErr   string
	cycles    int
}

func NewPoller(tracer trace.Tracer, runner CycleRunner, pollInterval time.Duration) *Poller {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Minute
	}
	return &Poller{
		tracer:       tracer,
		runner:       runner,
		pollInterval: pollInterval,
		state:        StateIdle,
	}
}

// Start blocks until ctx is cancelled. An in-flight cycle finishes its
// store writes before the loop exits; cancellation is only observed between
// cycles and inside blocking collaborator calls.
func (p *Poller) Start(ctx context.Context) {
	if p.runner == nil {
		log.Println("Poller disabled: no cycle runner")
		<-ctx.Done()
		p.setState(StateStopped)
		return
	}

	p.runOnce(ctx)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.setState(StateSleeping)
		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			log.Println("Poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "poller.run-once")
	defer span.End()

	p.setState(StateRunning)
	started := time.Now()
	result, err := p.runner.RunCycle(ctx, started.UTC())

	p.mu.Lock()
	p.cycles++
	p.lastCycle = started.UTC()
	p.lastErr = ""
	if err != nil {
		p.lastErr = err.Error()
	}
	p.mu.Unlock()

	if err != nil {
		log.Printf("Cycle failed after %s: %v", time.Since(started).Round(time.Millisecond), err)
		return
	}
	log.Printf(
		"Cycle complete in %s fetched=%d matched=%d ingested=%d written=%d flagged=%d errors=%d",
		time.Since(started).Round(time.Millisecond),
		result.MarketsFetched,
		result.MarketsMatched,
		result.ThreadsIngested,
		result.RecordsWritten,
		result.Flagged,
		len(result.Errors),
	)
	for _, e := range result.Errors {
		log.Printf("cycle warning: %s", e)
	}
}

// SetPhase mirrors the pipeline's in-cycle phase into the status surface.
// Transition logging is the pipeline's job; this only updates the snapshot.
func (p *Poller) SetPhase(phase string) {
	p.mu.Lock()
	p.state = State(phase)
	p.mu.Unlock()
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		log.Printf("Poller state: %s -> %s", prev, s)
	}
}

// Status is a point-in-time snapshot for the HTTP surface.
type Status struct {
	State        State     `json:"state"`
	Cycles       int       `json:"cycles"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	LastError    string    `json:"last_error,omitempty"`
	PollInterval string    `json:"poll_interval"`
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		State:        p.state,
		Cycles:       p.cycles,
		LastCycleAt:  p.lastCycle,
		LastError:    p.lastErr,
		PollInterval: p.pollInterval.String(),
	}
}
