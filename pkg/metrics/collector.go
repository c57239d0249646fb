package metrics

import (
	"time"

	"github.com/cuemby/onboard/pkg/types"
)

// TaskLister is the read side of the task store
type TaskLister interface {
	ListTasks() []*types.Task
}

// Collector periodically samples task state into gauges
type Collector struct {
	tasks    TaskLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(tasks TaskLister) *Collector {
	return &Collector{
		tasks:    tasks,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := map[types.TaskStatus]int{
		types.StatusRunning:     0,
		types.StatusOK:          0,
		types.StatusError:       0,
		types.StatusRebooting:   0,
		types.StatusRollingBack: 0,
		types.StatusRevoking:    0,
	}
	for _, task := range c.tasks.ListTasks() {
		counts[task.Result.Status]++
	}

	for status, count := range counts {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}
