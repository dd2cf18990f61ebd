package jobs

import (
	"sync"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/types"
)

type delivery struct {
	job types.Job
	at  time.Time
}

// deliveries remembers the final state of recently claimed jobs, without
// their results, so concurrent waiters on the same job converge on one status.
type deliveries struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]delivery
}

func newDeliveries(ttl time.Duration) *deliveries {
	return &deliveries{ttl: ttl, now: time.Now, m: make(map[string]delivery)}
}

func (d *deliveries) record(job types.Job) {
	job.Result = nil
	job.Error = ""
	job.Arguments = nil

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, entry := range d.m {
		if now.Sub(entry.at) > d.ttl {
			delete(d.m, id)
		}
	}
	d.m[job.ID] = delivery{job: job, at: now}
}

func (d *deliveries) lookup(id, token string) (types.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.m[id]
	if !ok || entry.job.Token != token || d.now().Sub(entry.at) > d.ttl {
		return types.Job{}, false
	}
	return entry.job, true
}

func (d *deliveries) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, id)
}
