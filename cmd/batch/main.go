package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"call-audit-go/internal/app"
	"call-audit-go/internal/config"
	"call-audit-go/internal/dataset"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/server"
	"call-audit-go/internal/store"
	"call-audit-go/internal/transcription"
	"call-audit-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	manifest := flag.String("manifest", envOr("BATCH_MANIFEST", "calls.xlsx"), "xlsx manifest listing recordings")
	out := flag.String("out", envOr("BATCH_OUTPUT", "results.xlsx"), "results workbook to write")
	seed := flag.String("seed", "", "import a JSON fixture of audited calls into the job store and exit")
	flag.Parse()

	log := logger.New()
	if *seed != "" {
		if err := runSeed(*seed, log); err != nil {
			log.WithError(err).Fatal("seed failed")
		}
		return
	}
	log.WithField("manifest", *manifest).Info("starting batch run")

	rows, err := dataset.Load(*manifest)
	if err != nil {
		log.WithError(err).Fatal("failed to load manifest")
	}
	log.WithField("rows", len(rows)).Info("manifest loaded")

	cfg := config.Load()
	// every row must fit; the batch runner never sheds load
	if cfg.Pipeline.QueueSize < len(rows) {
		cfg.Pipeline.QueueSize = len(rows)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize")
	}

	var ids []string
	for _, row := range rows {
		rowLog := log.WithField("row", row.Row).WithField("path", row.Path)
		f, err := os.Open(row.Path)
		if err != nil {
			rowLog.WithError(err).Warn("skipping unreadable recording")
			continue
		}
		ext := transcription.Extension(row.Path)
		contentType := ""
		if mimes := transcription.SupportedFormats[ext]; len(mimes) > 0 {
			contentType = mimes[0]
		}
		job, err := a.Service.Submit(ctx, server.Submission{
			Filename:    filepath.Base(row.Path),
			ContentType: contentType,
			Body:        f,
			Agent:       row.Agent,
			Customer:    row.Customer,
			Duration:    row.Duration,
		})
		f.Close()
		if err != nil {
			rowLog.WithError(err).Warn("submission rejected")
			continue
		}
		ids = append(ids, job.ID)
	}

	// wait for every accepted job to finish
	if err := a.Queue.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("batch interrupted")
	}

	results := make([]types.JobResult, 0, len(ids))
	for _, id := range ids {
		res, err := a.Store.Result(context.Background(), id)
		if err != nil {
			log.WithError(err).WithField("job_id", id).Error("failed to load result")
			continue
		}
		results = append(results, res)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.WithError(err).Fatal("failed to create output")
	}
	if err := dataset.WriteResults(f, results); err != nil {
		f.Close()
		log.WithError(err).Fatal("failed to write results")
	}
	if err := f.Close(); err != nil {
		log.WithError(err).Fatal("failed to close output")
	}

	summary := dataset.Summarize(results)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)

	if err := a.Close(context.Background()); err != nil {
		log.WithError(err).Warn("close failed")
	}
	log.WithField("out", *out).Info("batch run complete")
}

// runSeed only needs the store, so provider credentials are not required.
func runSeed(path string, log *logger.Logger) error {
	ctx := context.Background()
	cfg := config.Load()
	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fixture, err := dataset.LoadSeed(f)
	if err != nil {
		return err
	}
	ids, err := dataset.Seed(ctx, st, fixture, log)
	if err != nil {
		return err
	}
	log.WithField("jobs", len(ids)).WithField("db_driver", cfg.Database.Driver).Info("seed complete")
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
