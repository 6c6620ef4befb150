// Package job is the execution engine: it pulls messages from an
// extractor, runs them through the configured predicates, routes them
// to a handler implementation and folds every outcome into a status
// bitmask. DownloadJob is the handler that actually writes files.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/brensch/harvest/internal/config"
	"github.com/brensch/harvest/internal/db"
	"github.com/brensch/harvest/internal/extractor"
	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/predicate"
	"github.com/brensch/harvest/internal/status"
)

// handlers is what a job specialization provides. The base dispatcher
// owns the loop, predicate evaluation and error classification; the
// handlers own what a message means.
type handlers interface {
	handleURL(ctx context.Context, url string, md message.Metadata) error
	handleDirectory(ctx context.Context, md message.Metadata) error
	handleQueue(ctx context.Context, url string, md message.Metadata) error
	handleFinalize()
}

// Job consumes one extractor's message stream. Specializations embed it
// and register themselves as its handlers.
type Job struct {
	Extr   extractor.Extractor
	Cfg    *config.Config
	Log    *slog.Logger
	RunLog *db.RunLog

	// Status accumulates outcome bits, OR-combined with every child.
	Status status.Status

	h          handlers
	predURL    predicate.Predicate
	predQueue  predicate.Predicate
	parentMeta message.Metadata // injected by a parent job, may be nil
	handled    int
}

func newJob(extr extractor.Extractor, cfg *config.Config, log *slog.Logger, runLog *db.RunLog) Job {
	return Job{
		Extr:   extr,
		Cfg:    cfg,
		Log:    log.With(slog.String("category", extr.Category()), slog.String("url", extr.URL())),
		RunLog: runLog,
	}
}

// Run drives the message loop to completion and returns the accumulated
// status. The returned error is non-nil only for signals the caller must
// act on structurally: terminate, restart, process exit, or exhausted
// storage. Everything else is absorbed into the status.
func (j *Job) Run(ctx context.Context) (status.Status, error) {
	defer func() {
		j.h.handleFinalize()
		j.Extr.Finalize()
	}()

	j.initPredicates()

	for {
		msg, err := j.Extr.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if j.handled == 0 {
					j.Log.Info("no results")
				}
				return j.Status, nil
			}
			return j.Status, j.classify(err)
		}

		if err := j.dispatch(ctx, msg); err != nil {
			return j.Status, j.classify(err)
		}
	}
}

// classify ends the message loop over err, folding it into the job
// status. The returned error is non-nil only for signals the caller
// must see unchanged.
func (j *Job) classify(err error) error {
	var stop *status.StopError
	if errors.As(err, &stop) {
		if stop.Message != "" {
			j.Log.Info(stop.Message)
		}
		j.Status |= stop.Code
		return nil
	}
	if status.IsControl(err) {
		return err
	}
	if status.IsStorageFull(err) {
		j.Log.Error("storage full, aborting", slog.Any("error", err))
		return err
	}
	if status.IsOS(err) {
		j.Log.Error("filesystem failure", slog.Any("error", err))
		j.Status |= status.OSFatal
		return nil
	}
	j.Log.Error("unexpected failure",
		slog.String("class", fmt.Sprintf("%T", err)),
		slog.String("message", err.Error()),
	)
	j.Log.Debug("failure detail", slog.Any("error", err))
	j.Status |= status.Error
	return nil
}

func (j *Job) dispatch(ctx context.Context, msg *message.Message) error {
	switch msg.Kind {
	case message.KindURL:
		j.stampURL(msg)
		ok, err := j.predURL.Check(msg.URL, msg.Meta)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		j.updateMeta(msg.Meta)
		j.handled++
		return j.h.handleURL(ctx, msg.URL, msg.Meta)

	case message.KindDirectory:
		j.updateMeta(msg.Meta)
		j.handled++
		return j.h.handleDirectory(ctx, msg.Meta)

	case message.KindQueue:
		j.stampURL(msg)
		ok, err := j.predQueue.Check(msg.URL, msg.Meta)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		j.handled++
		return j.h.handleQueue(ctx, msg.URL, msg.Meta)
	}
	return fmt.Errorf("unknown message kind %d", msg.Kind)
}

// stampURL records the message's source URL in its metadata when
// configured.
func (j *Job) stampURL(msg *message.Message) {
	if j.Cfg.MetadataURLKey != "" && msg.Meta != nil {
		msg.Meta[j.Cfg.MetadataURLKey] = msg.URL
	}
}

// updateMeta merges the dispatcher-injected keys: extractor identity,
// static config keywords and any parent-propagated metadata.
func (j *Job) updateMeta(md message.Metadata) {
	if md == nil {
		return
	}
	md["category"] = j.Extr.Category()
	md["subcategory"] = j.Extr.Subcategory()
	if j.Cfg.Keywords != nil {
		md.Merge(j.Cfg.Keywords)
	}
	if j.parentMeta != nil {
		md.Merge(j.parentMeta)
	}
}

// initPredicates builds the per-namespace pipelines. A malformed filter
// or range is logged and dropped, not fatal; the format bit still marks
// the run.
func (j *Job) initPredicates() {
	var urlRange *predicate.Range
	j.predURL, urlRange = j.buildPipeline(j.Cfg.ImageUnique, j.Cfg.ImageFilter, j.Cfg.ImageRange)
	j.predQueue, _ = j.buildPipeline(j.Cfg.ChapterUnique, j.Cfg.ChapterFilter, j.Cfg.ChapterRange)

	// With only a range constraining the file namespace the extractor
	// can fast-forward past the head of the stream instead of producing
	// items the predicate would reject anyway.
	if urlRange != nil && j.Cfg.ImageFilter == "" && urlRange.Lower > 1 {
		urlRange.Index += j.Extr.Skip(urlRange.Lower - 1)
	}
}

func (j *Job) buildPipeline(unique bool, filter, rng string) (predicate.Predicate, *predicate.Range) {
	var preds []predicate.Predicate
	if unique {
		preds = append(preds, predicate.NewUnique())
	}
	if filter != "" {
		f, err := predicate.NewFilter(filter)
		if err != nil {
			j.Log.Warn("dropping malformed filter", slog.Any("error", err))
			j.Status |= status.Format
		} else {
			preds = append(preds, f)
		}
	}
	var parsed *predicate.Range
	if rng != "" {
		r, err := predicate.NewRange(rng)
		if err != nil {
			j.Log.Warn("dropping malformed range", slog.Any("error", err))
			j.Status |= status.Format
		} else {
			parsed = r
			preds = append(preds, r)
		}
	}
	return predicate.And(preds...), parsed
}
