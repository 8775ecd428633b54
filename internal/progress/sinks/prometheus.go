package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quizbot/quizsolver/internal/progress"
)

// PrometheusSink exports solver progress metrics via Prometheus. It owns
// the collectors for jobs started/completed/running and per-site
// question and submission counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	questions        *prometheus.CounterVec
	questionDuration *prometheus.HistogramVec
	submissions      *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solver_jobs_started_total",
			Help: "Total solve jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solver_jobs_completed_total",
			Help: "Total solve jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solver_jobs_running",
			Help: "Current number of running solve jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solver_job_runtime_seconds",
			Help:    "Wall time per completed solve job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}, []string{"result"}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solver_questions_total",
			Help: "Question completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		questionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solver_question_duration_seconds",
			Help:    "Question handling duration partitioned by site.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solver_submissions_total",
			Help: "Answer submissions partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.questions,
		s.questionDuration,
		s.submissions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageQuestionDone:
		s.handleQuestionEvent(evt)
	case progress.StageSubmitDone:
		s.handleSubmitEvent(evt)
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleQuestionEvent(evt progress.Event) {
	site := siteOrUnknown(evt.Site)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.questions.WithLabelValues(site, statusClass).Inc()
	if evt.Dur > 0 {
		s.questionDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleSubmitEvent(evt progress.Event) {
	outcome := evt.Outcome
	if outcome == "" {
		outcome = progress.OutcomeUnknown
	}
	s.submissions.WithLabelValues(siteOrUnknown(evt.Site), outcome).Inc()
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteOrUnknown(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
