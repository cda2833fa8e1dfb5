package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"call-audit-go/internal/analysis"
	"call-audit-go/internal/extractor"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Stage progress bands.
const (
	progressTranscription = 10
	progressAnalysisStart = 40
	progressAnalysisBand  = 20
	progressCompliance    = 70
	progressAnalytics     = 85
)

type Transcriber interface {
	Transcribe(ctx context.Context, path string) ([]types.Utterance, error)
}

type UtteranceAnalyzer interface {
	Analyze(ctx context.Context, u types.Utterance) analysis.Outcome
}

// ComplianceAuditor always returns a usable report; the error only explains a fallback.
type ComplianceAuditor interface {
	Audit(ctx context.Context, transcript string) (types.ComplianceReport, error)
}

type AnalyticsAggregator interface {
	Summarize(ctx context.Context, utterances []types.Utterance, sentiments []types.SentimentRecord) types.CallAnalytics
}

// Store is what the orchestrator writes. store.Store satisfies it.
type Store interface {
	jobs.Store
	AddUtterance(ctx context.Context, jobID string, u types.Utterance) error
	AddSentiment(ctx context.Context, jobID string, r types.SentimentRecord) error
	AddSafetyFinding(ctx context.Context, jobID string, f types.SafetyFinding) error
	SaveComplianceReport(ctx context.Context, jobID string, r types.ComplianceReport) error
	SaveAnalytics(ctx context.Context, jobID string, a types.CallAnalytics) error
}

// Processor runs one job through every stage in order.
type Processor struct {
	transcriber Transcriber
	analyzer    UtteranceAnalyzer
	auditor     ComplianceAuditor
	aggregator  AnalyticsAggregator
	store       Store
	events      *jobs.EventBus
	log         *logger.Logger
}

type Deps struct {
	Transcriber Transcriber
	Analyzer    UtteranceAnalyzer
	Auditor     ComplianceAuditor
	Aggregator  AnalyticsAggregator
	Store       Store
	Events      *jobs.EventBus
}

func New(d Deps, log *logger.Logger) *Processor {
	return &Processor{
		transcriber: d.Transcriber,
		analyzer:    d.Analyzer,
		auditor:     d.Auditor,
		aggregator:  d.Aggregator,
		store:       d.Store,
		events:      d.Events,
		log:         log.Component("processor"),
	}
}

// Process drives a pending job to Complete or Error. The staged audio file is
// removed on every exit path. The returned error is the cause recorded on the job.
func (p *Processor) Process(ctx context.Context, jobID, audioPath string) (err error) {
	log := p.log.WithJob(jobID)
	tracker := jobs.NewTracker(p.store, p.events, jobID, p.log)
	start := time.Now()

	defer func() {
		if rmErr := os.Remove(audioPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WithError(rmErr).Warn("failed to remove staged audio")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
			log.WithField("panic", r).Error("processor panicked")
		}
		if err != nil {
			// the job's context may already be done; the failure must still be recorded
			if ferr := tracker.Fail(context.WithoutCancel(ctx), err); ferr != nil {
				log.WithError(ferr).Error("failed to record job failure")
			}
			log.WithError(err).WithField("elapsed", time.Since(start).String()).Error("job failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before start: %w", err)
	}

	if err := tracker.Advance(ctx, progressTranscription, "Transcription", "Transcribing audio"); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	utterances, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return err
	}
	log.WithField("utterances", len(utterances)).Info("transcription complete")

	if err := tracker.Advance(ctx, progressAnalysisStart, "Analysis",
		fmt.Sprintf("Analyzing %d utterances", len(utterances))); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	analyzed, sentiments, err := p.analyze(ctx, tracker, jobID, utterances)
	if err != nil {
		return err
	}

	if err := tracker.Advance(ctx, progressCompliance, "Compliance", "Running compliance audit"); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	report, auditErr := p.auditor.Audit(ctx, extractor.FormatTranscript(analyzed))
	if auditErr != nil {
		log.WithError(auditErr).Warn("compliance audit fell back to default report")
	}
	if err := p.store.SaveComplianceReport(ctx, jobID, report); err != nil {
		return fmt.Errorf("save compliance report: %w", err)
	}

	if err := tracker.Advance(ctx, progressAnalytics, "Analytics", "Computing call analytics"); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	analytics := p.aggregator.Summarize(ctx, analyzed, sentiments)
	if err := p.store.SaveAnalytics(ctx, jobID, analytics); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled: %w", err)
	}
	if err := tracker.Complete(ctx, report.Score); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	log.WithField("score", report.Score).
		WithField("elapsed", time.Since(start).String()).
		Info("job complete")
	return nil
}

// analyze runs the per-utterance stage in chronological order and persists each result.
func (p *Processor) analyze(ctx context.Context, tracker *jobs.Tracker, jobID string, utterances []types.Utterance) ([]types.Utterance, []types.SentimentRecord, error) {
	n := len(utterances)
	analyzed := make([]types.Utterance, 0, n)
	sentiments := make([]types.SentimentRecord, 0, n)
	fallbacks := 0

	for i, u := range utterances {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("cancelled during analysis: %w", err)
		}
		out := p.analyzer.Analyze(ctx, u)
		fallbacks += len(out.Errors)

		if err := p.store.AddUtterance(ctx, jobID, out.Utterance); err != nil {
			return nil, nil, fmt.Errorf("save utterance: %w", err)
		}
		if err := p.store.AddSentiment(ctx, jobID, out.Sentiment); err != nil {
			return nil, nil, fmt.Errorf("save sentiment: %w", err)
		}
		for _, f := range out.Findings {
			if err := p.store.AddSafetyFinding(ctx, jobID, f); err != nil {
				return nil, nil, fmt.Errorf("save safety finding: %w", err)
			}
		}
		analyzed = append(analyzed, out.Utterance)
		sentiments = append(sentiments, out.Sentiment)

		progress := progressAnalysisStart + progressAnalysisBand*(i+1)/n
		if err := tracker.Advance(ctx, progress, "Analysis",
			fmt.Sprintf("Analyzed %d of %d utterances", i+1, n)); err != nil {
			return nil, nil, fmt.Errorf("update job: %w", err)
		}
	}
	if fallbacks > 0 {
		p.log.WithJob(jobID).WithField("fallbacks", fallbacks).Warn("analysis used provider defaults")
	}
	return analyzed, sentiments, nil
}
