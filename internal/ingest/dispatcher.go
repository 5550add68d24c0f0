package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/metrics"
	"github.com/moolen/driftwatch/internal/models"
)

// dispatcher fans readings out to a fixed set of FIFO scoring lanes. A
// sensor always hashes to the same lane, so its readings are scored in
// arrival order while different sensors proceed in parallel.
type dispatcher struct {
	lanes   []chan models.Reading
	process func(models.Reading)
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(shards, depth int, process func(models.Reading), m *metrics.Metrics) *dispatcher {
	lanes := make([]chan models.Reading, shards)
	for i := range lanes {
		lanes[i] = make(chan models.Reading, depth)
	}
	return &dispatcher{
		lanes:   lanes,
		process: process,
		metrics: m,
		logger:  logging.GetLogger("ingest.dispatcher"),
	}
}

func (d *dispatcher) start() {
	for _, lane := range d.lanes {
		d.wg.Add(1)
		go func(lane chan models.Reading) {
			defer d.wg.Done()
			for reading := range lane {
				d.process(reading)
				d.metrics.QueueDepth.Dec()
			}
		}(lane)
	}
}

// enqueue schedules scoring for a reading. When the sensor's lane is full
// or the dispatcher is stopped the work is dropped and counted; the
// reading itself is already durable.
func (d *dispatcher) enqueue(reading models.Reading) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(reading)
		return false
	}
	lane := d.lanes[laneFor(reading.SensorID, len(d.lanes))]
	select {
	case lane <- reading:
		d.metrics.QueueDepth.Inc()
		return true
	default:
		d.drop(reading)
		return false
	}
}

func (d *dispatcher) drop(reading models.Reading) {
	d.metrics.ScoringDropped.Inc()
	d.logger.Warn("scoring queue full, dropping detection for reading %d from sensor %s", reading.ID, reading.SensorID)
}

// stop closes the lanes and waits for in-flight work to drain within the
// context deadline.
func (d *dispatcher) stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, lane := range d.lanes {
			close(lane)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scoring lanes did not drain: %w", ctx.Err())
	}
}

func laneFor(sensorID string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(sensorID))
	return int(h.Sum32() % uint32(lanes))
}
