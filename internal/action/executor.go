package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/appcraft/internal/aggregate"
	"github.com/flemzord/appcraft/internal/fetch"
	"github.com/flemzord/appcraft/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher performs the outbound request of fetch_url.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Outcome describes what one execution did.
type Outcome struct {
	Written []store.DataPoint
	// Skipped explains why nothing was written without an error, e.g.
	// "no_samples" or "unknown_kind".
	Skipped string
}

// Skip reasons.
const (
	SkipUnknownKind = "unknown_kind"
	SkipNoSamples   = "no_samples"
	SkipUnknownOp   = "unknown_operation"
)

// Executor runs job actions. It is safe for concurrent use.
type Executor struct {
	data         store.DataStore
	fetcher      Fetcher
	agg          *aggregate.Aggregator
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	onFetchError func(job store.Job, err error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithFetchErrorHook registers a callback for failed fetches.
func WithFetchErrorHook(fn func(job store.Job, err error)) ExecutorOption {
	return func(e *Executor) { e.onFetchError = fn }
}

// NewExecutor creates an Executor writing to data.
func NewExecutor(data store.DataStore, fetcher Fetcher, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		data:    data,
		fetcher: fetcher,
		agg:     aggregate.New(data),
		logger:  logger,
		tracer:  otel.Tracer("github.com/flemzord/appcraft/internal/action"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the action of job once. Unknown kinds are logged and
// skipped. Fetch failures and store errors are returned; a run that finds
// nothing to write returns a skipped Outcome and no error.
func (e *Executor) Execute(ctx context.Context, job store.Job) (_ Outcome, err error) {
	ctx, span := e.tracer.Start(ctx, "action."+job.Action, trace.WithAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.Int64("app.id", job.AppID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	a, err := Decode(job.Action, job.Config)
	if errors.Is(err, ErrUnknownKind) {
		e.logger.Warn("action: unknown kind, skipping", "job_id", job.ID, "action", job.Action)
		return Outcome{Skipped: SkipUnknownKind}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	r := &run{ctx: ctx, e: e, job: job}
	if err := a.Accept(r); err != nil {
		return r.out, err
	}
	return r.out, nil
}

// run is the Visitor for one execution.
type run struct {
	ctx context.Context
	e   *Executor
	job store.Job
	out Outcome
}

func (r *run) append(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("action: encoding %s value: %w", key, err)
	}
	dp, err := r.e.data.Append(r.ctx, store.DataPoint{AppID: r.job.AppID, Key: key, Value: raw})
	if err != nil {
		return fmt.Errorf("action: appending %s: %w", key, err)
	}
	r.out.Written = append(r.out.Written, dp)
	return nil
}

func (r *run) timestamp() string {
	return r.e.now().UTC().Format(time.RFC3339)
}

func (r *run) VisitLogEntry(a *LogEntry) error {
	record := make(map[string]any, len(a.Fields)+1)
	for _, f := range a.Fields {
		record[f.Name] = stubValue(f.Type)
	}
	record["timestamp"] = r.timestamp()
	return r.append(ResolveKey(a.OutputKey, r.job.ID, "entry"), record)
}

func stubValue(typ string) any {
	switch strings.ToLower(typ) {
	case "number", "integer", "float":
		return 0
	case "boolean", "bool":
		return false
	default:
		return ""
	}
}

func (r *run) VisitFetchURL(a *FetchURL) error {
	res, err := r.e.fetcher.Fetch(r.ctx, a.URL)
	if err != nil {
		if r.e.onFetchError != nil {
			r.e.onFetchError(r.job, err)
		}
		return err
	}

	key := ResolveKey(a.OutputKey, r.job.ID, "fetch")
	if err := r.append(key, extractBody(res.Body, a.JSONPath)); err != nil {
		return err
	}

	updatedKey := key + "_updated_at"
	if !store.ValidKey(updatedKey) {
		updatedKey = fmt.Sprintf("job_%d_fetch_updated_at", r.job.ID)
	}
	return r.append(updatedKey, res.FetchedAt.UTC().Format(time.RFC3339))
}

// extractBody returns the value stored for a fetched body: the value at
// path when the body is JSON and the path resolves, the whole JSON body
// otherwise, or the raw text when the body is not JSON.
func extractBody(body []byte, path string) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	if path != "" {
		if v, ok := Extract(parsed, path); ok {
			return v
		}
	}
	return parsed
}

func (r *run) VisitSendReminder(a *SendReminder) error {
	text := a.Text
	if strings.TrimSpace(text) == "" {
		text = DefaultReminderText
	}
	return r.append(ResolveKey(a.OutputKey, r.job.ID, "reminder"), map[string]any{
		"text":   text,
		"sentAt": r.timestamp(),
	})
}

func (r *run) VisitAggregateData(a *AggregateData) error {
	op := aggregate.Op(strings.ToLower(a.Operation))
	if !op.Valid() {
		r.e.logger.Warn("action: unknown aggregate operation",
			"job_id", r.job.ID, "operation", a.Operation)
		r.out.Skipped = SkipUnknownOp
		return nil
	}

	value, ok, err := r.e.agg.Aggregate(r.ctx, r.job.AppID, a.DataKey, op, a.WindowDays)
	if err != nil {
		return err
	}
	if !ok {
		r.e.logger.Debug("action: no numeric samples in window",
			"job_id", r.job.ID, "data_key", a.DataKey)
		r.out.Skipped = SkipNoSamples
		return nil
	}
	return r.append(ResolveKey(a.OutputKey, r.job.ID, "result"), value)
}
