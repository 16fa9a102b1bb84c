package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRigCore/internal/peripheral"
)

// Sampler periodically samples the peripheral set and publishes each reading.
type Sampler struct {
	set      *peripheral.Set
	io       peripheral.IO
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	// last timestamp published per source
	last map[string]float64
}

func NewSampler(set *peripheral.Set, io peripheral.IO, sink Sink, interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		set:      set,
		io:       io,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		last:     make(map[string]float64),
	}
}

// Start launches the sampling loop. Calling Start on a running sampler is a no-op.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)

	go s.sampleLoop(s.stopChan)

	s.logger.Info("Sampler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the sampling loop and waits for an in-flight sample to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stopChan
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Sampler stopped")
}

func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) sampleLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if err := s.SampleOnce(ctx); err != nil {
				s.logger.Warn("Sample incomplete", zap.Error(err))
			}
			cancel()
		}
	}
}

// SampleOnce reads every sensor once and publishes the records. Read and
// publish failures are combined in the returned error; successful readings
// are still published.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	readings, errs := s.set.Sample(ctx, s.io)
	records := s.records(readings)

	for _, d := range records {
		if err := s.sink.Publish(ctx, d); err != nil {
			s.logger.Warn("Publish failed",
				zap.String("source", d.Source),
				zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// records stamps readings, keeping timestamps non-decreasing per source.
func (s *Sampler) records(readings []peripheral.Reading) []Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := unixSeconds(s.now())
	out := make([]Data, 0, len(readings))
	for _, r := range readings {
		kind, ok := KindOf(r.Kind)
		if !ok {
			continue
		}
		stamp := ts
		if prev, seen := s.last[r.Source]; seen && stamp < prev {
			stamp = prev
		}
		s.last[r.Source] = stamp
		out = append(out, Data{
			ID:         uuid.New(),
			Timestamp:  stamp,
			Value:      r.Value,
			Peripheral: kind,
			Source:     r.Source,
		})
	}
	return out
}
