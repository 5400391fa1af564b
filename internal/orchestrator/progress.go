package orchestrator

import (
	"time"
)

// poller periodically derives progress from completed steps.
type poller struct {
	stop chan struct{}
}

// StartProgressSimulation polls the state every poll interval and calls cb
// with the share of probes that have produced an outcome, as a floor
// percentage. cb is called once immediately and afterwards only when the
// value increases. A second call while polling is ignored.
func (o *Orchestrator) StartProgressSimulation(cb func(int)) {
	if cb == nil {
		return
	}
	o.mu.Lock()
	if o.poller != nil {
		o.mu.Unlock()
		return
	}
	p := &poller{stop: make(chan struct{})}
	o.poller = p
	interval := o.pollInterval
	o.mu.Unlock()

	last := o.completedPercent()
	cb(last)
	go o.poll(p, interval, cb, last)
}

// StopProgressSimulation stops the poller if one is running. It does not
// wait for an in-flight callback to return.
func (o *Orchestrator) StopProgressSimulation() {
	o.mu.Lock()
	p := o.poller
	o.poller = nil
	o.mu.Unlock()

	if p != nil {
		close(p.stop)
	}
}

func (o *Orchestrator) poll(p *poller, interval time.Duration, cb func(int), last int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			pct := o.completedPercent()
			if pct <= last {
				continue
			}
			last = pct
			if p.stopped() {
				return
			}
			cb(pct)
		}
	}
}

func (p *poller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) completedPercent() int {
	st := o.State()
	if len(o.probes) == 0 {
		return 0
	}
	done := 0
	for _, p := range o.probes {
		if st.Completed(p.Step()) {
			done++
		}
	}
	return done * 100 / len(o.probes)
}
