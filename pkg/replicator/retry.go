package replicator

import (
	"context"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// retryReader retries reads of unreachable sources with exponential backoff
type retryReader struct {
	source.Reader

	log     logrus.FieldLogger
	tries   uint
	initial time.Duration
}

func (r *retryReader) options(model *manifest.Model) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.RecordRetry(model.Name, string(errcode.UnreachableSource))
			r.log.WithError(err).WithFields(logrus.Fields{"model": model.Name, "next": next}).Warn("Source unreachable, retrying")
		}),
	}
}

func permanentUnlessUnreachable(err error) error {
	if err == nil || errcode.Has(err, errcode.UnreachableSource) {
		return err
	}

	return backoff.Permanent(err)
}

func (r *retryReader) Read(ctx context.Context, model *manifest.Model, after []any, size int) ([]source.Row, error) {
	return backoff.Retry(ctx, func() ([]source.Row, error) {
		rows, err := r.Reader.Read(ctx, model, after, size)

		return rows, permanentUnlessUnreachable(err)
	}, r.options(model)...)
}

type lookupResult struct {
	row   source.Row
	found bool
}

func (r *retryReader) Lookup(ctx context.Context, model *manifest.Model, by []string, values []any) (source.Row, bool, error) {
	res, err := backoff.Retry(ctx, func() (lookupResult, error) {
		row, found, err := r.Reader.Lookup(ctx, model, by, values)

		return lookupResult{row: row, found: found}, permanentUnlessUnreachable(err)
	}, r.options(model)...)

	return res.row, res.found, err
}
