// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package pruner deletes finished actions past their retention window.
package pruner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/model"
)

const (
	DefaultRetentionDays = 90
	DefaultBatchSize     = 1000
	MaxBatchSize         = 10000
	// MaxRetentionDays is roughly a century.
	MaxRetentionDays     = 36500
)

// ErrPruneInProgress is returned when Prune is called while another prune
// is running.
var ErrPruneInProgress = &errs.Error{Kind: errs.Conflict, Message: "prune already in progress"}

// Store is the slice of the action store the pruner needs.
type Store interface {
	CountActions(ctx context.Context) (int, error)
	CountPrunable(ctx context.Context, cutoff time.Time) (int, error)
	PrunableBatch(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.Action, error)
	DeleteActionsByID(ctx context.Context, ids []string, cutoff time.Time) (int64, error)
}

// Options controls one prune run. Zero values select the defaults.
type Options struct {
	RetentionDays int
	BatchSize     int
	DryRun        bool
	// Archive, when set, receives every deleted row as zstd-compressed JSON
	// lines before the row is deleted.
	Archive io.Writer
}

// Result reports what a prune run saw and did.
type Result struct {
	TotalActions    int       `json:"totalActions"`
	ActionsToDelete int       `json:"actionsToDelete"`
	ActionsDeleted  int       `json:"actionsDeleted"`
	Errors          []string  `json:"errors"`
	Cutoff          time.Time `json:"cutoff"`
	DryRun          bool      `json:"dryRun"`
}

// Pruner removes terminal actions older than the retention window. Only one
// prune runs at a time per Pruner.
type Pruner struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
	log   *clog.Logger
}

// New returns a Pruner over store.
func New(store Store) *Pruner {
	return &Pruner{store: store, now: time.Now, log: logging.With("pruner")}
}

func (o *Options) normalize() error {
	if o.RetentionDays < 0 {
		return errs.New(errs.Validation, "retentionDays must not be negative")
	}
	if o.RetentionDays > MaxRetentionDays {
		return errs.New(errs.Validation, "retentionDays must not exceed %d", MaxRetentionDays)
	}
	if o.BatchSize < 0 {
		return errs.New(errs.Validation, "batchSize must not be negative")
	}
	if o.RetentionDays == 0 {
		o.RetentionDays = DefaultRetentionDays
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > MaxBatchSize {
		o.BatchSize = MaxBatchSize
	}
	return nil
}

// Prune deletes succeeded and failed actions requested before the cutoff
// in keyset-ordered batches. A failing batch is recorded in Result.Errors
// and the run moves on, so work already done is kept. Queued and running
// actions are never touched.
func (p *Pruner) Prune(ctx context.Context, opts Options) (Result, error) {
	if err := opts.normalize(); err != nil {
		return Result{}, err
	}
	if !p.mu.TryLock() {
		return Result{}, ErrPruneInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	cutoff := p.now().UTC().AddDate(0, 0, -opts.RetentionDays)
	res := Result{Cutoff: cutoff, DryRun: opts.DryRun, Errors: []string{}}

	total, err := p.store.CountActions(ctx)
	if err != nil {
		return res, errs.Wrap(errs.Internal, err, "count actions")
	}
	res.TotalActions = total
	toDelete, err := p.store.CountPrunable(ctx, cutoff)
	if err != nil {
		return res, errs.Wrap(errs.Internal, err, "count prunable actions")
	}
	res.ActionsToDelete = toDelete
	if opts.DryRun || toDelete == 0 {
		p.log.Info("prune finished", "dryRun", opts.DryRun, "total", total, "eligible", toDelete)
		return res, nil
	}

	var (
		zw  *zstd.Encoder
		enc *json.Encoder
	)
	if opts.Archive != nil {
		zw, err = zstd.NewWriter(opts.Archive)
		if err != nil {
			return res, errs.Wrap(errs.Internal, err, "open archive")
		}
		enc = json.NewEncoder(zw)
	}

	afterID := ""
	for batchNo := 1; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("stopped before batch %d: %v", batchNo, err))
			break
		}
		batch, err := p.store.PrunableBatch(ctx, cutoff, afterID, opts.BatchSize)
		if err != nil {
			// Without the batch there is no key to continue from.
			res.Errors = append(res.Errors, fmt.Sprintf("batch %d: read: %v", batchNo, err))
			break
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		if enc != nil {
			if err := archiveBatch(enc, batch); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("batch %d: archive: %v", batchNo, err))
				break
			}
		}
		ids := make([]string, 0, len(batch))
		for _, a := range batch {
			ids = append(ids, a.ID)
		}
		n, err := p.store.DeleteActionsByID(ctx, ids, cutoff)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("batch %d: delete: %v", batchNo, err))
		} else {
			res.ActionsDeleted += int(n)
		}
		if len(batch) < opts.BatchSize {
			break
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("close archive: %v", err))
		}
	}

	p.log.Info("prune finished", "total", total, "eligible", toDelete, "deleted", res.ActionsDeleted, "errors", len(res.Errors), "took", time.Since(start))
	return res, nil
}

func archiveBatch(enc *json.Encoder, batch []model.Action) error {
	for _, a := range batch {
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	return nil
}

// ReadArchive decodes an archive written by Prune.
func ReadArchive(r io.Reader) ([]model.Action, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)
	var out []model.Action
	for {
		var a model.Action
		if err := dec.Decode(&a); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, a)
	}
}
