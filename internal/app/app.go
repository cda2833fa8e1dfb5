// Package app wires configuration into a running pipeline. Both the API
// server and the batch runner build on it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/analysis"
	"call-audit-go/internal/azure"
	"call-audit-go/internal/config"
	"call-audit-go/internal/extractor"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/mock"
	"call-audit-go/internal/pipeline"
	"call-audit-go/internal/processor"
	"call-audit-go/internal/server"
	"call-audit-go/internal/store"
	"call-audit-go/internal/transcription"
)

const eventBufferSize = 1000

// App is the assembled pipeline.
type App struct {
	Config  *config.Config
	Store   store.Store
	Events  *jobs.EventBus
	Queue   *pipeline.Queue
	Service *server.Service
	Server  *server.Server
	log     *logger.Logger
}

// providers is the set of remote collaborators the stages depend on.
type providers struct {
	speech    transcription.Provider
	uploader  transcription.Uploader
	sentiment analysis.SentimentProvider
	safety    analysis.SafetyProvider
	phrases   aggregator.KeyPhraseExtractor
	chat      extractor.Chatter
}

func newProviders(cfg *config.Config, log *logger.Logger) providers {
	if cfg.UseMocks {
		log.Warn("mock providers enabled; no remote calls will be made")
		lang := mock.Language{}
		return providers{
			speech:    mock.NewSpeech(),
			uploader:  mock.Uploader{},
			sentiment: lang,
			safety:    mock.Safety{},
			phrases:   lang,
			chat:      mock.Chat{},
		}
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	lang := azure.NewLanguage(cfg.Language.Endpoint, cfg.Language.Key, httpClient, log)
	return providers{
		speech:    azure.NewSpeech(cfg.Speech.Endpoint, cfg.Speech.Key, httpClient, log),
		uploader:  azure.NewBlob(cfg.Storage.AccountURL, cfg.Storage.Container, cfg.Storage.SASToken, httpClient, log),
		sentiment: lang,
		safety:    azure.NewContentSafety(cfg.Safety.Endpoint, cfg.Safety.Key, httpClient, log),
		phrases:   lang,
		chat: azure.NewOpenAI(azure.OpenAIOptions{
			Endpoint:    cfg.OpenAI.Endpoint,
			Key:         cfg.OpenAI.Key,
			Deployment:  cfg.OpenAI.Deployment,
			APIVersion:  cfg.OpenAI.APIVersion,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Timeout:     cfg.OpenAI.Timeout,
		}, httpClient, log),
	}
}

// New validates cfg, opens the store and starts the worker pool.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	p := newProviders(cfg, log)
	events := jobs.NewEventBus(eventBufferSize)

	tcfg := transcription.DefaultConfig()
	tcfg.Locale = cfg.Speech.Locale
	driver := transcription.NewDriver(p.speech, p.uploader, log,
		transcription.WithPollIntervals(cfg.Pipeline.PollInterval, cfg.Pipeline.PollRunning),
		transcription.WithTimeout(cfg.Pipeline.PollTimeout),
		transcription.WithMaxFileSize(cfg.Server.MaxUploadBytes),
		transcription.WithConfig(tcfg),
	)

	proc := processor.New(processor.Deps{
		Transcriber: driver,
		Analyzer:    analysis.NewAnalyzer(p.sentiment, p.safety, log),
		Auditor:     extractor.NewAuditor(extractor.NewChatReasoner(p.chat), log),
		Aggregator:  aggregator.New(p.phrases, log),
		Store:       st,
		Events:      events,
	}, log)

	queue := pipeline.NewQueue(proc, log,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithJobTimeout(cfg.Pipeline.JobTimeout),
	)

	svc := server.NewService(st, queue, events, server.ServiceConfig{
		UploadDir:      cfg.Server.UploadDir,
		AllowedExts:    cfg.Server.AllowedExts,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		UploadTimeout:  cfg.Server.UploadTimeout,
	}, log)

	return &App{
		Config:  cfg,
		Store:   st,
		Events:  events,
		Queue:   queue,
		Service: svc,
		Server:  server.New(svc, st, events, log),
		log:     log.Component("app"),
	}, nil
}

// Close drains the queue within ctx and closes the store.
func (a *App) Close(ctx context.Context) error {
	qerr := a.Queue.Shutdown(ctx)
	if err := a.Store.Close(); err != nil {
		a.log.WithError(err).Error("failed to close store")
		return err
	}
	return qerr
}
