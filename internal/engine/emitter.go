package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/natsbus"
)

type outcome struct {
	success bool
	cached  bool
	events  int
	message string
}

// emitter is the single writer to a run's sink. Strategies that produce
// events from several goroutines all go through it.
type emitter struct {
	mu sync.Mutex

	missionID string
	sink      Sink
	pub       Publisher
	runs      *agent.Runs

	closed     bool
	done       bool
	capture    []event.Event
	capturing  bool
	processing bool
	result     outcome

	onProcessing func()
}

func newEmitter(missionID string, sink Sink, pub Publisher, runs *agent.Runs) *emitter {
	return &emitter{
		missionID: missionID,
		sink:      sink,
		pub:       pub,
		runs:      runs,
	}
}

func (em *emitter) send(p event.Payload) error {
	return em.emit(event.New(p))
}

func (em *emitter) sendAll(ps []event.Payload) error {
	for _, p := range ps {
		if err := em.send(p); err != nil {
			return err
		}
	}
	return nil
}

func (em *emitter) log(typ event.LogType, content string) error {
	return em.send(event.TeamLog{Type: typ, Content: content})
}

// emit hands ev to the sink. Events after the terminal one are dropped.
func (em *emitter) emit(ev event.Event) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.closed {
		return ErrSinkClosed
	}
	if em.done {
		slog.Debug("dropping event after terminal", "mission", em.missionID, "type", ev.Type)
		return nil
	}

	if err := em.sink(ev); err != nil {
		em.closed = true
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}

	em.result.events++
	if em.capturing {
		em.capture = append(em.capture, ev)
	}
	em.observe(ev)

	if em.pub != nil {
		if err := em.pub.PublishJSON(natsbus.TopicMissionEvents(em.missionID), ev); err != nil {
			slog.Warn("publish mission event failed", "mission", em.missionID, "error", err)
		}
	}
	if em.runs != nil {
		em.runs.Touch(em.missionID)
	}
	return nil
}

func (em *emitter) observe(ev event.Event) {
	switch p := ev.Data.(type) {
	case event.AgentStatus:
		if p.Status == agent.StatusWorking && !em.processing {
			em.processing = true
			if em.onProcessing != nil {
				em.onProcessing()
			}
		}
	case event.MissionComplete:
		em.done = true
		em.result.success = p.Success
		em.result.message = p.Message
	case event.Error:
		em.done = true
		em.result.success = false
		em.result.message = p.Error
	}
}

func (em *emitter) startCapture() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.capturing = true
	em.capture = nil
}

// stopCapture ends recording and returns what was captured.
func (em *emitter) stopCapture() []event.Event {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.capturing = false
	out := em.capture
	em.capture = nil
	return out
}

func (em *emitter) markCached() {
	em.mu.Lock()
	em.result.cached = true
	em.mu.Unlock()
}

func (em *emitter) finished() bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.done
}

func (em *emitter) outcome() outcome {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.result
}
