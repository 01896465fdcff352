package main

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"market-bars/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type bridgeMetrics struct {
	ticksOut *prometheus.CounterVec
	qDepth   prometheus.Gauge
	batchSz  prometheus.Histogram
	latency  prometheus.Histogram
	wsEvents *prometheus.CounterVec
	dropped  prometheus.Counter
}

func newMetrics() bridgeMetrics {
	return bridgeMetrics{
		ticksOut: shared.NewCounterVec(prometheus.CounterOpts{Name: "bridge_ticks_total", Help: "Ticks published"}, []string{"instrument"}),
		qDepth:   shared.NewGauge(prometheus.GaugeOpts{Name: "bridge_queue_depth", Help: "Ticks queued"}),
		batchSz:  shared.NewHist(prometheus.HistogramOpts{Name: "bridge_batch_size", Help: "Batch size", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500}}),
		latency:  shared.NewHist(prometheus.HistogramOpts{Name: "bridge_latency_seconds", Help: "Tick to publish latency", Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5}}),
		wsEvents: shared.NewCounterVec(prometheus.CounterOpts{Name: "bridge_ws_events_total", Help: "Websocket lifecycle events"}, []string{"event"}),
		dropped:  shared.NewCounter(prometheus.CounterOpts{Name: "bridge_ticks_dropped_total", Help: "Ticks dropped"}),
	}
}

type producerOptions struct {
	workers    int
	queue      int
	maxBatch   int
	flushEvery time.Duration
	topic      string
}

func (o *producerOptions) defaults() {
	if o.workers < 1 {
		o.workers = 1
	}
	if o.queue < 1 {
		o.queue = 1000
	}
	if o.maxBatch < 1 {
		o.maxBatch = 256
	}
	if o.flushEvery <= 0 {
		o.flushEvery = 50 * time.Millisecond
	}
}

// startProducerWorkers runs one batching producer per shard. Ticks of one
// instrument always land on the same shard so their order is kept.
func startProducerWorkers(
	ctx context.Context,
	opts producerOptions,
	newProducer func() (shared.Producer, error),
	log *zap.Logger,
	metrics bridgeMetrics,
	inFlight *atomic.Int64,
) ([]chan shared.TickMessage, func(), error) {
	opts.defaults()
	chans := make([]chan shared.TickMessage, opts.workers)
	var wg sync.WaitGroup
	for i := range chans {
		p, err := newProducer()
		if err != nil {
			for j := 0; j < i; j++ {
				close(chans[j])
			}
			wg.Wait()
			return nil, nil, err
		}
		chans[i] = make(chan shared.TickMessage, opts.queue)
		wg.Add(1)
		go func(worker int, in <-chan shared.TickMessage, p shared.Producer) {
			defer wg.Done()
			defer p.Close()
			runProducer(ctx, worker, in, p, opts, log, metrics, inFlight)
		}(i, chans[i], p)
	}
	stop := func() {
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
	}
	return chans, stop, nil
}

func runProducer(
	ctx context.Context,
	worker int,
	in <-chan shared.TickMessage,
	p shared.Producer,
	opts producerOptions,
	log *zap.Logger,
	metrics bridgeMetrics,
	inFlight *atomic.Int64,
) {
	batch := make([]shared.TickMessage, 0, opts.maxBatch)
	timer := time.NewTimer(opts.flushEvery)
	defer timer.Stop()
	done := ctx.Done()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		metrics.batchSz.Observe(float64(len(batch)))
		records, err := shared.Records(batch)
		if err != nil {
			metrics.dropped.Add(float64(len(batch)))
			log.Error("encode batch failed", zap.Int("worker", worker), zap.Error(err))
		} else {
			writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err = p.ProduceBatch(writeCtx, opts.topic, records)
			cancel()
			if err != nil {
				metrics.dropped.Add(float64(len(records)))
				log.Error("batch write failed", zap.Int("worker", worker), zap.Int("records", len(records)), zap.Error(err))
			} else {
				for _, tk := range batch {
					metrics.latency.Observe(time.Since(tk.Time).Seconds())
					metrics.ticksOut.WithLabelValues(tk.Instrument).Inc()
				}
			}
		}
		inFlight.Add(int64(-len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case tk, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tk)
			if len(batch) >= opts.maxBatch {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(opts.flushEvery)
			}
		case <-timer.C:
			flush()
			timer.Reset(opts.flushEvery)
		case <-done:
			// drained by close(in)
			done = nil
		}
	}
}

func shardFor(key string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}
