package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/metrics"
	"github.com/quizbot/quizsolver/internal/progress"
	"github.com/quizbot/quizsolver/internal/quiz"
)

// ExtractPipeline is the surface the worker needs from the extraction
// package; *extract.Pipeline satisfies it.
type ExtractPipeline interface {
	Extract(ctx context.Context, doc quiz.Document) (quiz.Solution, bool)
}

// Deps bundles the collaborators a Worker needs.
type Deps struct {
	Queue     quiz.Queue
	Jobs      quiz.JobStore
	Blobs     quiz.BlobStore
	Publisher quiz.Publisher
	Hasher    quiz.Hasher
	Clock     quiz.Clock

	// Probe is the plain HTTP fetcher tried first for every question.
	Probe quiz.Fetcher
	// Headless renders pages that the detector flags as script-driven.
	Headless quiz.Fetcher
	Detector quiz.HeadlessDetector

	Pipeline  ExtractPipeline
	Submitter quiz.Submitter
	Progress  progress.Emitter
}

// Config holds the worker's solve policy defaults. Per-job parameters
// override the budgets when set.
type Config struct {
	// ContentType used when persisting rendered pages.
	ContentType string
	// BlobPrefix is prepended to every persisted object path.
	BlobPrefix string
	// Topic is the Pub/Sub topic completion summaries are published to.
	Topic string
	// GlobalBudget caps the wall time spent on a whole job.
	GlobalBudget time.Duration
	// QuestionWindow is the solving window granted to each question.
	QuestionWindow time.Duration
	// MaxQuestions caps chain following per job.
	MaxQuestions int
}

// maxAttemptsPerQuestion bounds resubmission after rejected answers.
const maxAttemptsPerQuestion = 3

// Worker consumes queued jobs and drives the solve pipeline for each:
// fetch, optionally render headless, extract an answer, submit it, and
// follow the chain to the next question until the budget runs out.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New builds a Worker. A nil logger is replaced with a no-op.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.GlobalBudget <= 0 {
		cfg.GlobalBudget = 170 * time.Second
	}
	if cfg.QuestionWindow <= 0 {
		cfg.QuestionWindow = 180 * time.Second
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run dequeues and processes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item quiz.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	start := w.deps.Clock.Now()

	// A job canceled while still queued must not run.
	if job, err := w.deps.Jobs.GetJob(ctx, item.JobID); err == nil && job.Status == quiz.JobStatusCanceled {
		logger.Info("job canceled before start, skipping")
		return
	}

	var counters quiz.JobCounters
	if err := w.deps.Jobs.UpdateJobStatus(ctx, item.JobID, quiz.JobStatusRunning, "", counters); err != nil {
		logger.Error("failed to mark job running", zap.Error(err))
		return
	}
	w.emit(progress.Event{
		JobID: item.JobID,
		TS:    start,
		Stage: progress.StageJobStart,
		URL:   item.Params.StartURL,
	})

	budget := w.cfg.GlobalBudget
	if item.Params.BudgetSeconds > 0 {
		budget = time.Duration(item.Params.BudgetSeconds) * time.Second
	}
	window := w.cfg.QuestionWindow
	if item.Params.QuestionWindowSeconds > 0 {
		window = time.Duration(item.Params.QuestionWindowSeconds) * time.Second
	}
	maxQuestions := w.cfg.MaxQuestions
	if item.Params.MaxQuestions > 0 {
		maxQuestions = item.Params.MaxQuestions
	}

	jobCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	sched := newSchedule(window, maxQuestions)
	sched.add(item.Params.StartURL, w.deps.Clock.Now())

	for {
		if jobCtx.Err() != nil {
			break
		}
		q := sched.next(w.deps.Clock.Now())
		if q == nil {
			break
		}
		w.handleQuestion(jobCtx, item, q, sched, &counters, logger)
	}
	counters.QuestionsSeen = sched.total()

	// The terminal write and summary publish must survive shutdown, so
	// they run on a short detached context.
	finalCtx, cancelFinal := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFinal()

	status, errText := w.deriveFinalStatus(ctx, jobCtx, counters)
	if err := w.deps.Jobs.UpdateJobStatus(finalCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("failed to record final job status", zap.Error(err))
	}

	finished := w.deps.Clock.Now()
	stage := progress.StageJobDone
	if status != quiz.JobStatusSucceeded {
		stage = progress.StageJobError
	}
	w.emit(progress.Event{
		JobID:   item.JobID,
		TS:      finished,
		Stage:   stage,
		Outcome: string(status),
		Dur:     finished.Sub(start),
		Note:    errText,
	})
	w.publishSummary(finalCtx, item, status, errText, counters, finished.Sub(start), logger)

	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("questions_seen", counters.QuestionsSeen),
		zap.Int("questions_solved", counters.QuestionsSolved),
		zap.Int("submissions_sent", counters.SubmissionsSent),
		zap.Duration("duration", finished.Sub(start)),
	)
}

// handleQuestion runs the fetch/extract/submit cycle for one question.
// The question stays pending only when the grader rejected a submitted
// answer; every other failure abandons it.
func (w *Worker) handleQuestion(ctx context.Context, item quiz.QueueItem, q *question, sched *schedule, counters *quiz.JobCounters, logger *zap.Logger) {
	started := w.deps.Clock.Now()
	q.attempts++
	site := hostOf(q.url)
	qlog := logger.With(zap.String("url", q.url))

	resp, err := w.fetch(ctx, item, q.url)
	if err != nil {
		qlog.Warn("fetch failed", zap.Error(err))
		sched.abandon(q)
		counters.QuestionsFailed++
		w.emitQuestion(item.JobID, site, q.url, "", 0, started, "fetch: "+err.Error())
		return
	}

	rec := quiz.QuestionRecord{
		JobID:        item.JobID,
		URL:          q.url,
		StatusCode:   resp.StatusCode,
		UsedHeadless: resp.UsedHeadless,
		FetchedAt:    started,
	}
	rec.ContentHash, rec.BlobURI = w.persist(ctx, item.JobID, resp.Body, qlog)

	submitURL, err := FindSubmitURL(resp.Body, resp.URL)
	if err != nil || submitURL == "" {
		qlog.Warn("no submit endpoint found", zap.Error(err))
		sched.abandon(q)
		counters.QuestionsFailed++
		w.finishQuestion(ctx, rec, started, qlog)
		w.emitQuestion(item.JobID, site, q.url, "", resp.StatusCode, started, "no submit endpoint")
		return
	}
	rec.SubmitURL = submitURL

	sol, ok := w.deps.Pipeline.Extract(ctx, quiz.Document{URL: resp.URL, HTML: resp.Body})
	if !ok {
		qlog.Warn("no extractor produced an answer")
		sched.abandon(q)
		counters.QuestionsFailed++
		w.finishQuestion(ctx, rec, started, qlog)
		w.emitQuestion(item.JobID, site, q.url, "", resp.StatusCode, started, "no answer extracted")
		return
	}
	rec.Extractor = sol.Extractor
	rec.Answer = sol.Answer
	rec.Confidence = sol.Confidence

	outcome, err := w.deps.Submitter.Submit(ctx, submitURL, quiz.Submission{
		Email:  item.Params.Email,
		Secret: item.Params.Secret,
		URL:    q.url,
		Answer: sol.Answer,
	})
	if err != nil {
		qlog.Warn("submission failed", zap.Error(err))
		sched.abandon(q)
		counters.QuestionsFailed++
		w.finishQuestion(ctx, rec, started, qlog)
		w.emitQuestion(item.JobID, site, q.url, sol.Extractor, resp.StatusCode, started, "submit failed")
		return
	}
	counters.SubmissionsSent++
	rec.Correct = outcome.Correct
	rec.NextURL = outcome.NextURL

	switch {
	case outcome.Correct != nil && *outcome.Correct:
		sched.markSolved(q)
		counters.QuestionsSolved++
		counters.SubmissionsAccepted++
	case outcome.Correct != nil:
		// Rejected answers leave the question pending so a later pass can
		// retry within its window, up to the attempt cap.
		qlog.Info("answer rejected", zap.String("extractor", sol.Extractor))
		if q.attempts >= maxAttemptsPerQuestion {
			sched.abandon(q)
			counters.QuestionsFailed++
		}
	default:
		// Grader did not verdict; treat the question as consumed.
		sched.abandon(q)
	}

	if outcome.NextURL != "" {
		if sched.add(outcome.NextURL, w.deps.Clock.Now()) {
			qlog.Debug("following chain", zap.String("next_url", outcome.NextURL))
		}
	}

	w.finishQuestion(ctx, rec, started, qlog)
	w.emitQuestion(item.JobID, site, q.url, sol.Extractor, resp.StatusCode, started, "")
	w.emit(progress.Event{
		JobID:     item.JobID,
		TS:        w.deps.Clock.Now(),
		Stage:     progress.StageSubmitDone,
		Site:      hostOf(submitURL),
		URL:       submitURL,
		Extractor: sol.Extractor,
		Outcome:   submitOutcomeLabel(outcome),
	})
}

// fetch probes with the plain client first and promotes to a headless
// render when the detector flags the response as script-driven. A client
// that explicitly opted in to headless skips the detector and always
// renders.
func (w *Worker) fetch(ctx context.Context, item quiz.QueueItem, target string) (quiz.FetchResponse, error) {
	req := quiz.FetchRequest{JobID: item.JobID, URL: target}
	probe, err := w.deps.Probe.Fetch(ctx, req)
	if err != nil {
		return quiz.FetchResponse{}, err
	}
	metrics.ObserveFetch(target, false, len(probe.Body))
	forced := item.Params.HeadlessProvided && item.Params.HeadlessAllowed
	if !item.Params.HeadlessAllowed || w.deps.Headless == nil ||
		(!forced && !w.deps.Detector.ShouldPromote(probe)) {
		return probe, nil
	}
	req.UseHeadless = true
	rendered, err := w.deps.Headless.Fetch(ctx, req)
	if err != nil {
		w.logger.Warn("headless render failed, using probe body",
			zap.String("url", target),
			zap.Error(err),
		)
		return probe, nil
	}
	metrics.ObserveFetch(target, true, len(rendered.Body))
	return rendered, nil
}

// persist stores the rendered body and returns its hash and blob URI.
// Persistence failures are logged but never fail the question.
func (w *Worker) persist(ctx context.Context, jobID string, body []byte, logger *zap.Logger) (string, string) {
	hash, err := w.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hashing page failed", zap.Error(err))
		return "", ""
	}
	path := fmt.Sprintf("%s/%s/%s.html", w.cfg.BlobPrefix, jobID, hash)
	uri, err := w.deps.Blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("persisting page failed", zap.Error(err))
		return hash, ""
	}
	return hash, uri
}

func (w *Worker) finishQuestion(ctx context.Context, rec quiz.QuestionRecord, started time.Time, logger *zap.Logger) {
	rec.DurationMs = w.deps.Clock.Now().Sub(started).Milliseconds()
	if err := w.deps.Jobs.RecordQuestion(ctx, rec); err != nil {
		logger.Warn("recording question failed", zap.Error(err))
	}
}

func (w *Worker) deriveFinalStatus(parent, jobCtx context.Context, counters quiz.JobCounters) (quiz.JobStatus, string) {
	if parent.Err() != nil {
		return quiz.JobStatusCanceled, "canceled during shutdown"
	}
	if counters.QuestionsSolved == 0 {
		if jobCtx.Err() != nil {
			return quiz.JobStatusFailed, "budget exhausted before any question was solved"
		}
		return quiz.JobStatusFailed, "no questions were solved"
	}
	return quiz.JobStatusSucceeded, ""
}

func (w *Worker) publishSummary(ctx context.Context, item quiz.QueueItem, status quiz.JobStatus, errText string, counters quiz.JobCounters, dur time.Duration, logger *zap.Logger) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":               item.JobID,
		"status":               string(status),
		"error":                errText,
		"start_url":            item.Params.StartURL,
		"questions_seen":       counters.QuestionsSeen,
		"questions_solved":     counters.QuestionsSolved,
		"questions_failed":     counters.QuestionsFailed,
		"submissions_sent":     counters.SubmissionsSent,
		"submissions_accepted": counters.SubmissionsAccepted,
		"duration_ms":          dur.Milliseconds(),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logger.Warn("publishing job summary failed", zap.Error(err))
	}
}

func (w *Worker) emitQuestion(jobID, site, url, extractor string, statusCode int, started time.Time, note string) {
	now := w.deps.Clock.Now()
	w.emit(progress.Event{
		JobID:       jobID,
		TS:          now,
		Stage:       progress.StageQuestionDone,
		Site:        site,
		URL:         url,
		Extractor:   extractor,
		StatusClass: progress.ClassifyStatus(statusCode),
		Dur:         now.Sub(started),
		Note:        note,
	})
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Progress == nil {
		return
	}
	w.deps.Progress.Emit(evt)
}

func submitOutcomeLabel(outcome quiz.SubmitOutcome) string {
	switch {
	case outcome.Correct == nil:
		return progress.OutcomeUnknown
	case *outcome.Correct:
		return progress.OutcomeAccepted
	default:
		return progress.OutcomeRejected
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
