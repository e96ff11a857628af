package trace

import (
	"fmt"
	"sync"
	"time"
)

// Heartbeat emits liveness events while scripts run. A probe, if given,
// describes progress in each beat; identical details across beats point at
// a stuck script.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	probe    func() string
	stop     chan struct{}
	once     sync.Once
	done     sync.WaitGroup
}

// StartHeartbeat begins beating every interval. It returns nil, which is
// safe to Stop, when tracing is off or interval is not positive.
func StartHeartbeat(tracer Tracer, interval time.Duration, probe func() string) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		probe:    probe,
		stop:     make(chan struct{}),
	}
	h.done.Add(1)
	go h.loop()
	return h
}

func (h *Heartbeat) loop() {
	defer h.done.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for beat := 1; ; beat++ {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			detail := fmt.Sprintf("#%d", beat)
			if h.probe != nil {
				detail += " " + h.probe()
			}
			h.tracer.Emit(&Event{
				Time:   now,
				Kind:   KindHeartbeat,
				Scope:  ScopeEngine,
				Name:   "heartbeat",
				Detail: detail,
			})
		}
	}
}

// Stop ends the beats and waits for the goroutine to exit.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	h.done.Wait()
}
