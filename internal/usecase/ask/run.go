package ask

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain/answer"
)

// run tracks the state machine of one pipeline execution.
// It is owned by a single goroutine.
type run struct {
	svc        *Service
	log        *zap.Logger
	state      State
	start      time.Time
	stageStart time.Time
	metrics    answer.PerformanceMetrics
}

func (s *Service) newRun(log *zap.Logger) *run {
	now := s.now()
	return &run{
		svc:        s,
		log:        log,
		state:      StateInit,
		start:      now,
		stageStart: now,
		metrics:    answer.NewMetrics(),
	}
}

// enter closes the current stage and moves to next.
func (r *run) enter(next State) {
	r.closeStage()
	r.log.Debug("Pipeline state", zap.String("from", string(r.state)), zap.String("to", string(next)))
	r.state = next
	r.stageStart = r.svc.now()
}

// suspend closes the current stage while another run does the work.
func (r *run) suspend() {
	r.closeStage()
	r.state = StateInit
}

// finish moves to a terminal state and records it.
func (r *run) finish(terminal State) answer.PerformanceMetrics {
	r.enter(terminal)
	r.metrics.FinalState = string(terminal)
	return r.metrics
}

// snapshot copies the metrics as they would be at terminal, without leaving the current stage.
func (r *run) snapshot(terminal State) answer.PerformanceMetrics {
	m := answer.NewMetrics()
	for k, v := range r.metrics.StageTimingsMs {
		m.StageTimingsMs[k] = v
	}
	for k, v := range r.metrics.CacheHits {
		m.CacheHits[k] = v
	}
	m.Degraded = append([]string(nil), r.metrics.Degraded...)
	m.LLMCallsSaved = r.metrics.LLMCallsSaved
	m.FinalState = string(terminal)
	return m
}

func (r *run) closeStage() {
	switch r.state {
	case StateInit, StateDone, StateNoResults:
		return
	}
	d := r.svc.now().Sub(r.stageStart)
	name := r.state.stageName()
	r.metrics.StageTimingsMs[name] += ms(d)
	if r.svc.metrics.StageDuration != nil {
		r.svc.metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (r *run) cacheHit(stage string, hit bool) {
	r.metrics.CacheHits[stage] = hit
}

func (r *run) degrade(component string) {
	if slices.Contains(r.metrics.Degraded, component) {
		return
	}
	r.metrics.Degraded = append(r.metrics.Degraded, component)
	if r.svc.metrics.Degradations != nil {
		r.svc.metrics.Degradations.WithLabelValues(component).Inc()
	}
}

// merge adds the run's timings, cache hits and degradations into m.
func (r *run) merge(m *answer.PerformanceMetrics) {
	if m.StageTimingsMs == nil {
		m.StageTimingsMs = make(map[string]float64)
	}
	if m.CacheHits == nil {
		m.CacheHits = make(map[string]bool)
	}
	for k, v := range r.metrics.StageTimingsMs {
		m.StageTimingsMs[k] += v
	}
	for k, v := range r.metrics.CacheHits {
		if _, ok := m.CacheHits[k]; !ok {
			m.CacheHits[k] = v
		}
	}
	for _, c := range r.metrics.Degraded {
		if !slices.Contains(m.Degraded, c) {
			m.Degraded = append(m.Degraded, c)
		}
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
