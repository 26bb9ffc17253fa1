package mongoqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"iencode/internal/queue"
)

const collectionName = "jobs"

// jobDocument is the BSON shape of a job. Times are stored as UTC dates.
type jobDocument struct {
	ID              string           `bson:"_id"`
	Owner           string           `bson:"owner"`
	PayloadRef      string           `bson:"payloadRef"`
	Quality         int              `bson:"quality"`
	Lane            string           `bson:"lane"`
	Status          string           `bson:"status"`
	Stage           string           `bson:"stage"`
	Progress        progressDocument `bson:"progress"`
	Seq             int64            `bson:"seq"`
	CreatedAt       time.Time        `bson:"createdAt"`
	UpdatedAt       time.Time        `bson:"updatedAt"`
	StartedAt       *time.Time       `bson:"startedAt,omitempty"`
	FinishedAt      *time.Time       `bson:"finishedAt,omitempty"`
	CancelRequested bool             `bson:"cancelRequested"`
	ResultRef       string           `bson:"resultRef,omitempty"`
	ErrorInfo       string           `bson:"errorInfo,omitempty"`
	Retries         []retryDocument  `bson:"retries,omitempty"`
}

type progressDocument struct {
	Fraction   float64 `bson:"fraction"`
	BytesDone  int64   `bson:"bytesDone"`
	BytesTotal int64   `bson:"bytesTotal"`
	ETAMillis  int64   `bson:"etaMs"`
	Message    string  `bson:"message,omitempty"`
}

type retryDocument struct {
	Stage   string    `bson:"stage"`
	Attempt int       `bson:"attempt"`
	Error   string    `bson:"error"`
	At      time.Time `bson:"at"`
}

// Store persists jobs in a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Open connects to uri, selects database and ensures the job indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := &Store{client: client, coll: client.Database(database).Collection(collectionName)}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "seq", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create job indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Put(ctx context.Context, job *queue.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("put job: missing id")
	}
	doc := toDocument(job)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	var doc jobDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return fromDocument(doc), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(statuses)}
	}
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*queue.Job
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, fromDocument(doc))
	}
	return jobs, cursor.Err()
}

func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []queue.Status{queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled}
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": statusStrings(terminal)},
		"finishedAt": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.M{"seq": 1})
	err := s.coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return doc.Seq, nil
}

func toDocument(job *queue.Job) jobDocument {
	doc := jobDocument{
		ID:         job.ID,
		Owner:      job.Owner,
		PayloadRef: job.PayloadRef,
		Quality:    job.Quality,
		Lane:       string(job.Lane),
		Status:     string(job.Status),
		Stage:      string(job.Stage),
		Progress: progressDocument{
			Fraction:   job.Progress.Fraction,
			BytesDone:  job.Progress.BytesDone,
			BytesTotal: job.Progress.BytesTotal,
			ETAMillis:  job.Progress.ETA.Milliseconds(),
			Message:    job.Progress.Message,
		},
		Seq:             job.Seq,
		CreatedAt:       job.CreatedAt.UTC(),
		UpdatedAt:       job.UpdatedAt.UTC(),
		StartedAt:       utcPtr(job.StartedAt),
		FinishedAt:      utcPtr(job.FinishedAt),
		CancelRequested: job.CancelRequested,
		ResultRef:       job.ResultRef,
		ErrorInfo:       job.ErrorInfo,
	}
	for _, r := range job.Retries {
		doc.Retries = append(doc.Retries, retryDocument{Stage: string(r.Stage), Attempt: r.Attempt, Error: r.Error, At: r.At.UTC()})
	}
	return doc
}

func fromDocument(doc jobDocument) *queue.Job {
	job := &queue.Job{
		ID:         doc.ID,
		Owner:      doc.Owner,
		PayloadRef: doc.PayloadRef,
		Quality:    doc.Quality,
		Lane:       queue.Lane(doc.Lane),
		Status:     queue.Status(doc.Status),
		Stage:      queue.Stage(doc.Stage),
		Progress: queue.Progress{
			Fraction:   doc.Progress.Fraction,
			BytesDone:  doc.Progress.BytesDone,
			BytesTotal: doc.Progress.BytesTotal,
			ETA:        time.Duration(doc.Progress.ETAMillis) * time.Millisecond,
			Message:    doc.Progress.Message,
		},
		Seq:             doc.Seq,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
		StartedAt:       utcPtr(doc.StartedAt),
		FinishedAt:      utcPtr(doc.FinishedAt),
		CancelRequested: doc.CancelRequested,
		ResultRef:       doc.ResultRef,
		ErrorInfo:       doc.ErrorInfo,
	}
	for _, r := range doc.Retries {
		job.Retries = append(job.Retries, queue.RetryRecord{Stage: queue.Stage(r.Stage), Attempt: r.Attempt, Error: r.Error, At: r.At.UTC()})
	}
	return job
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func statusStrings(statuses []queue.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
