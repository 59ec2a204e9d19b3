// Package mongo hosts the MongoDB-backed run.Store, a durable
// enrichment beyond the minimum the specification requires: run records
// that must survive a process restart (so a client can reconnect and
// recover a run's terminal state after the process hosting RunManager
// was replaced) need a store that outlives the host process, unlike
// run/inmem.
//
// It imports the v2 mongo driver exclusively; run records are stored
// with an internal optimistic-concurrency version field so Transition
// can provide the same single-winner semantics run/inmem gives for free
// via its mutex, without requiring Mongo transactions.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/dockrion/dockrion/run"
	"github.com/dockrion/dockrion/streamerr"
)

const (
	defaultCollection = "runs"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "run-mongo"
	maxCASAttempts    = 8
)

// Client exposes Mongo-backed operations for run.Record persistence.
type Client interface {
	health.Pinger

	Insert(ctx context.Context, rec run.Record) error
	Load(ctx context.Context, runID string) (run.Record, error)
	CompareAndSwap(ctx context.Context, runID string, mutate func(*run.Record) error) error
	Delete(ctx context.Context, runID string) error
}

// Options configures the Mongo client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ Client = (*client)(nil)

// New returns a Client backed by MongoDB, ensuring the run_id unique
// index exists before returning.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(coll)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, mcoll); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, coll: mcoll, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Insert(ctx context.Context, rec run.Record) error {
	if rec.RunID == "" {
		return errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := fromRecord(rec, 0)
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *client) Load(ctx context.Context, runID string) (run.Record, error) {
	if runID == "" {
		return run.Record{}, errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc runDocument
	if err := c.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return run.Record{}, streamerr.RunNotFound
		}
		return run.Record{}, err
	}
	return doc.toRecord(), nil
}

// CompareAndSwap loads the current document, runs mutate against it, and
// writes the result back only if no concurrent writer has bumped the
// version field in the meantime. On a lost race it reloads and retries,
// up to maxCASAttempts, so exactly one of two concurrent callers
// (e.g. a cancel and a natural completion racing for the same run)
// commits its transition.
func (c *client) CompareAndSwap(ctx context.Context, runID string, mutate func(*run.Record) error) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		findCtx, cancel := c.withTimeout(ctx)
		var doc runDocument
		err := c.coll.FindOne(findCtx, bson.M{"run_id": runID}).Decode(&doc)
		cancel()
		if err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				return streamerr.RunNotFound
			}
			return err
		}

		rec := doc.toRecord()
		if err := mutate(&rec); err != nil {
			return err
		}

		newDoc := fromRecord(rec, doc.Version+1)
		replaceCtx, cancel := c.withTimeout(ctx)
		res, err := c.coll.ReplaceOne(replaceCtx, bson.M{"run_id": runID, "version": doc.Version}, newDoc)
		cancel()
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
		// Lost the race to a concurrent writer; reload and retry.
	}
	return errors.New("run/mongo: exceeded retries resolving a concurrent transition")
}

func (c *client) Delete(ctx context.Context, runID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.DeleteOne(ctx, bson.M{"run_id": runID})
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type runDocument struct {
	RunID      string         `bson:"run_id"`
	Status     run.Status     `bson:"status"`
	CreatedAt  time.Time      `bson:"created_at"`
	StartedAt  *time.Time     `bson:"started_at,omitempty"`
	FinishedAt *time.Time     `bson:"finished_at,omitempty"`
	Result     any            `bson:"result,omitempty"`
	Error      *resultError   `bson:"error,omitempty"`
	TTLSeconds int            `bson:"ttl_seconds,omitempty"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	Version    int64          `bson:"version"`
}

type resultError struct {
	Message string `bson:"message"`
	Code    string `bson:"code"`
}

func fromRecord(rec run.Record, version int64) runDocument {
	doc := runDocument{
		RunID:      rec.RunID,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Result:     rec.Result,
		TTLSeconds: rec.TTLSeconds,
		Metadata:   rec.Metadata,
		Version:    version,
	}
	if rec.Error != nil {
		doc.Error = &resultError{Message: rec.Error.Message, Code: rec.Error.Code}
	}
	return doc
}

func (doc runDocument) toRecord() run.Record {
	rec := run.Record{
		RunID:      doc.RunID,
		Status:     doc.Status,
		CreatedAt:  doc.CreatedAt,
		StartedAt:  doc.StartedAt,
		FinishedAt: doc.FinishedAt,
		Result:     doc.Result,
		TTLSeconds: doc.TTLSeconds,
		Metadata:   doc.Metadata,
	}
	if doc.Error != nil {
		rec.Error = &run.ResultError{Message: doc.Error.Message, Code: doc.Error.Code}
	}
	return rec
}
