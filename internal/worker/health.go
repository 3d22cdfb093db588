package worker

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"go.uber.org/zap"
)

const (
	healthPollLock    = "facilitator-health-poll"
	latencyWindow     = 20
	successAlpha      = 0.2
	downAfterFailures = 3
	degradedBelow     = 0.9
)

// HealthStore lists facilitators and records their health
type HealthStore interface {
	ListFacilitators(ctx context.Context) ([]models.Facilitator, error)
	UpdateFacilitatorHealth(ctx context.Context, facilitatorID string, health models.Health) error
}

// healthStats keeps the rolling signals for one facilitator
type healthStats struct {
	successRate float64
	latencies   []int
	next        int
	failures    int
	samples     int
}

// observe folds one probe result into the stats
func (s *healthStats) observe(ok bool, latency time.Duration) {
	v := 0.0
	if ok {
		v = 1.0
	}
	if s.samples == 0 {
		s.successRate = v
	} else {
		s.successRate = successAlpha*v + (1-successAlpha)*s.successRate
	}
	s.samples++

	if ok {
		s.failures = 0
		ms := int(latency.Milliseconds())
		if len(s.latencies) < latencyWindow {
			s.latencies = append(s.latencies, ms)
		} else {
			s.latencies[s.next] = ms
		}
		s.next = (s.next + 1) % latencyWindow
	} else {
		s.failures++
	}
}

// p95 returns the nearest-rank 95th percentile of the latency window
func (s *healthStats) p95() int {
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]int, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Ints(sorted)

	rank := (95*len(sorted) + 99) / 100
	return sorted[rank-1]
}

func (s *healthStats) health() models.Health {
	status := models.HealthHealthy
	switch {
	case s.failures >= downAfterFailures:
		status = models.HealthDown
	case s.successRate < degradedBelow:
		status = models.HealthDegraded
	}
	return models.Health{
		Status:       status,
		P95LatencyMs: s.p95(),
		SuccessRate:  s.successRate,
	}
}

// HealthPoller probes {endpoint}/health for every active facilitator
type HealthPoller struct {
	store    HealthStore
	locker   Locker
	client   *http.Client
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	stats map[string]*healthStats
}

// NewHealthPoller creates a poller. locker may be nil.
func NewHealthPoller(store HealthStore, locker Locker, interval time.Duration) *HealthPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthPoller{
		store:    store,
		locker:   locker,
		client:   &http.Client{Timeout: interval / 2},
		interval: interval,
		logger:   util.GetLogger(),
		stats:    make(map[string]*healthStats),
	}
}

// Run blocks until ctx is cancelled
func (p *HealthPoller) Run(ctx context.Context) {
	p.logger.Info("Starting facilitator health poller", zap.Duration("interval", p.interval))
	runEvery(ctx, p.interval, func(ctx context.Context) {
		withLock(ctx, p.locker, healthPollLock, p.interval, p.PollOnce)
	})
}

// PollOnce probes every facilitator concurrently and stores the results
func (p *HealthPoller) PollOnce(ctx context.Context) {
	list, err := p.store.ListFacilitators(ctx)
	if err != nil {
		p.logger.Warn("Failed to list facilitators for health poll", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for i := range list {
		f := list[i]
		if f.Endpoint == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.pollOne(ctx, f)
		}()
	}
	wg.Wait()
}

func (p *HealthPoller) pollOne(ctx context.Context, f models.Facilitator) {
	latency, err := p.probe(ctx, f.Endpoint)
	result := "ok"
	if err != nil {
		result = "error"
		p.logger.Debug("Facilitator probe failed",
			zap.String("facilitator_id", f.FacilitatorID),
			zap.Error(err))
	}
	util.HealthPollsTotal.WithLabelValues(result).Inc()

	health := p.record(f.FacilitatorID, err == nil, latency)
	if err := p.store.UpdateFacilitatorHealth(ctx, f.FacilitatorID, health); err != nil {
		p.logger.Warn("Failed to store facilitator health",
			zap.String("facilitator_id", f.FacilitatorID),
			zap.Error(err))
	}
}

func (p *HealthPoller) record(facilitatorID string, ok bool, latency time.Duration) models.Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, found := p.stats[facilitatorID]
	if !found {
		s = &healthStats{}
		p.stats[facilitatorID] = s
	}
	s.observe(ok, latency)
	return s.health()
}

func (p *HealthPoller) probe(ctx context.Context, endpoint string) (time.Duration, error) {
	url := strings.TrimRight(endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, err
	}
	resp.Body.Close()

	if resp.StatusCode > 299 {
		return latency, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return latency, nil
}
