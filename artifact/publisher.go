// Package artifact uploads a finished build's output directory to object
// storage.
package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"godeploy/logging"
	"godeploy/metrics"
	"godeploy/storage"
)

const defaultConcurrency = 4

type Options struct {
	// Concurrency bounds parallel uploads. Zero means defaultConcurrency.
	Concurrency int
	// FailOnError turns any per-file upload failure into a Publish error.
	FailOnError bool
}

// Result counts the files of one Publish call.
type Result struct {
	Uploaded int
	Failed   int
}

type Publisher struct {
	store storage.ObjectStore
	opts  Options
	log   *logrus.Entry
}

func NewPublisher(store storage.ObjectStore, opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Publisher{store: store, opts: opts, log: logging.C("publisher")}
}

// Key returns the object key of a file at rel inside the output directory.
func Key(projectID, rel string) string {
	return projectID + "/" + filepath.ToSlash(rel)
}

// Publish uploads every regular file under outputDir. A failed file is logged
// and counted; it does not stop the others. Publish returns an error when the
// directory cannot be walked, or when FailOnError is set and a file failed.
func (p *Publisher) Publish(ctx context.Context, projectID, outputDir string) (Result, error) {
	info, err := os.Stat(outputDir)
	if err != nil {
		return Result{}, fmt.Errorf("output directory %s: %w", outputDir, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("output directory %s is not a directory", outputDir)
	}

	log := p.log.WithField("project_id", projectID)
	var uploaded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	walkErr := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		key := Key(projectID, rel)

		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err == nil {
				err = p.store.PutObject(gctx, key, data)
			}
			metrics.ObserveUpload(err == nil)
			if err != nil {
				failed.Add(1)
				log.Warnf("⚠️ Failed to upload %s: %v", key, err)
				return nil
			}
			uploaded.Add(1)
			log.Debugf("📤 Uploaded %s", key)
			return nil
		})
		return nil
	})
	_ = g.Wait()

	res := Result{Uploaded: int(uploaded.Load()), Failed: int(failed.Load())}
	if walkErr != nil {
		return res, fmt.Errorf("walking %s: %w", outputDir, walkErr)
	}
	if p.opts.FailOnError && res.Failed > 0 {
		return res, fmt.Errorf("%d of %d files failed to upload", res.Failed, res.Failed+res.Uploaded)
	}
	log.Infof("📦 Published %d files (%d failed)", res.Uploaded, res.Failed)
	return res, nil
}
