package logging

import (
	"log/slog"
	"sync"
	"time"
)

// Aggregator rolls up high-frequency events into periodic count lines.
// Search logs one event per keystroke of an incremental query, which would
// drown the log file; callers route those through Aggregate instead of the
// component logger and a rollup line is emitted once per flush window.
type Aggregator struct {
	logger *slog.Logger
	window time.Duration

	mu      sync.Mutex
	tallies map[string]*eventTally

	done chan struct{}
	wg   sync.WaitGroup
}

// eventTally is one component/event pair's count within the current window.
// Fields hold the attrs from the newest Record call so the rollup line still
// carries a recent example of the event's context.
type eventTally struct {
	component string
	event     string
	count     int64
	fields    []slog.Attr
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops recorded events, which is the pre-Init and discard case.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:  logger,
		window:  time.Duration(intervalSecs) * time.Second,
		tallies: make(map[string]*eventTally),
		done:    make(chan struct{}),
	}
}

// Start launches the flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop halts the flush goroutine and emits whatever the current window holds.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record adds one occurrence of an event to the current window.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := component + "/" + event
	tally, ok := a.tallies[key]
	if !ok {
		tally = &eventTally{component: component, event: event}
		a.tallies[key] = tally
	}
	tally.count++
	if len(fields) > 0 {
		tally.fields = fields
	}
}

// flush swaps the window's tallies out under lock, then logs without it.
func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.tallies) == 0 {
		a.mu.Unlock()
		return
	}
	tallies := a.tallies
	a.tallies = make(map[string]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for _, tally := range tallies {
		attrs := []any{
			slog.String("component", tally.component),
			slog.String("event", tally.event),
			slog.Int64("count", tally.count),
			slog.Int("window_seconds", int(a.window.Seconds())),
		}
		for _, f := range tally.fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_rollup", attrs...)
	}
}
