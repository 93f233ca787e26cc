package journal

import (
	"sync"

	"github.com/rs/zerolog"
)

// Async wraps a Journal with a buffered writer goroutine so the execution
// path never blocks on disk. Writes are dropped (and counted) when the
// buffer is full.
type Async struct {
	inner   Journal
	results chan ResultRecord
	expo    chan ExposureSnapshot
	done    chan struct{}
	wg      sync.WaitGroup
	log     zerolog.Logger

	mu      sync.Mutex
	dropped int
	closed  bool
}

func NewAsync(inner Journal, buffer int, log zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		inner:   inner,
		results: make(chan ResultRecord, buffer),
		expo:    make(chan ExposureSnapshot, buffer),
		done:    make(chan struct{}),
		log:     log,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer a.wg.Done()
	for {
		select {
		case r, ok := <-a.results:
			if !ok {
				a.results = nil
				break
			}
			if err := a.inner.RecordResult(r); err != nil {
				a.log.Warn().Err(err).Str("decision", r.DecisionID).Msg("journal write failed")
			}
		case e, ok := <-a.expo:
			if !ok {
				a.expo = nil
				break
			}
			if err := a.inner.RecordExposure(e); err != nil {
				a.log.Warn().Err(err).Msg("exposure write failed")
			}
		}
		if a.results == nil && a.expo == nil {
			return
		}
	}
}

// The lock spans the non-blocking send so Close cannot close a channel
// between the closed check and the send.
func (a *Async) RecordResult(r ResultRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.results <- r:
	default:
		a.drop()
	}
	return nil
}

func (a *Async) RecordExposure(e ExposureSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.expo <- e:
	default:
		a.drop()
	}
	return nil
}

// drop is called with the lock held.
func (a *Async) drop() {
	a.dropped++
	a.log.Warn().Int("dropped", a.dropped).Msg("journal buffer full, dropping record")
}

// Dropped reports how many records were lost to a full buffer.
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close drains the buffers, stops the writer, and closes the inner journal.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.results)
	close(a.expo)
	a.wg.Wait()
	return a.inner.Close()
}
