package workers

import (
	"time"
)

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.wg.RLock()
	defer p.wg.RUnlock()
	return *p.metrics
}

// AverageDuration is the mean execution time of finished tasks.
func (m PoolMetrics) AverageDuration() time.Duration {
	finished := m.TasksCompleted + m.TasksFailed
	if finished == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(finished)
}

func (p *WorkerPool) incrementSubmitted() {
	p.wg.Lock()
	p.metrics.TasksSubmitted++
	p.wg.Unlock()
}

func (p *WorkerPool) incrementCompleted() {
	p.wg.Lock()
	p.metrics.TasksCompleted++
	p.wg.Unlock()
}

func (p *WorkerPool) incrementFailed() {
	p.wg.Lock()
	p.metrics.TasksFailed++
	p.wg.Unlock()
}

func (p *WorkerPool) recordDuration(d time.Duration) {
	p.wg.Lock()
	p.metrics.TotalDuration += d
	p.wg.Unlock()
}
