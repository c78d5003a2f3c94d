package importer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"checkqr/internal/apperr"
	"checkqr/internal/queue"
	"checkqr/internal/store"
)

// ErrJobNotFound is returned for unknown or expired jobs.
var ErrJobNotFound = errors.New("importer: job not found")

// JobStatus is the lifecycle state of an async import.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is an async import and, once finished, its report.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Rows      int       `json:"rows"`
	Error     string    `json:"error,omitempty"`
	Report    *Report   `json:"report,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore keeps job state for polling.
type JobStore interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// RedisJobStore keeps jobs as JSON strings that expire after ttl.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

func (s *RedisJobStore) Save(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, store.Key("import", job.ID), raw, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (Job, error) {
	raw, err := s.client.Get(ctx, store.Key("import", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// MemoryJobStore keeps jobs in process memory without expiry.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

func (s *MemoryJobStore) Save(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

type jobPayload struct {
	JobID string `json:"job_id"`
	Rows  []Row  `json:"rows"`
}

// Jobs submits imports to the queue and runs them from it.
type Jobs struct {
	importer *Importer
	store    JobStore
	queue    queue.Queue
	now      func() time.Time
}

func NewJobs(im *Importer, js JobStore, q queue.Queue) *Jobs {
	return &Jobs{importer: im, store: js, queue: q, now: time.Now}
}

// Submit records a queued job and publishes it.
func (j *Jobs) Submit(ctx context.Context, rows []Row) (Job, error) {
	now := j.now().UTC()
	job := Job{ID: uuid.NewString(), Status: JobQueued, Rows: len(rows), CreatedAt: now, UpdatedAt: now}
	if err := j.store.Save(ctx, job); err != nil {
		return Job{}, apperr.Storage(err, "save import job")
	}
	msg, err := queue.NewMessage(queue.TypeImport, jobPayload{JobID: job.ID, Rows: rows})
	if err != nil {
		return Job{}, apperr.Storage(err, "encode import job")
	}
	if err := j.queue.Publish(ctx, msg); err != nil {
		return Job{}, apperr.Storage(err, "publish import job")
	}
	return job, nil
}

// Get returns a job by id.
func (j *Jobs) Get(ctx context.Context, id string) (Job, error) {
	job, err := j.store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return Job{}, apperr.NotFound("import job %q not found", id)
	}
	if err != nil {
		return Job{}, apperr.Storage(err, "get import job")
	}
	return job, nil
}

// Handle runs one queued import message.
func (j *Jobs) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeImport {
		return nil
	}
	var p jobPayload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		return err
	}
	job, err := j.store.Get(ctx, p.JobID)
	if errors.Is(err, ErrJobNotFound) {
		job = Job{ID: p.JobID, Rows: len(p.Rows), CreatedAt: j.now().UTC()}
	} else if err != nil {
		return err
	}

	job.Status, job.UpdatedAt = JobRunning, j.now().UTC()
	if err := j.store.Save(ctx, job); err != nil {
		return err
	}

	rep, err := j.importer.Run(ctx, p.Rows)
	job.Report = &rep
	job.UpdatedAt = j.now().UTC()
	if err != nil {
		job.Status, job.Error = JobFailed, err.Error()
	} else {
		job.Status = JobDone
	}
	// a cancelled ctx still needs the final state written
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return j.store.Save(saveCtx, job)
}

// Serve consumes the queue until ctx is done.
func (j *Jobs) Serve(ctx context.Context) error {
	msgs, err := j.queue.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if err := j.Handle(ctx, msg); err != nil {
			log.Printf("import job failed: %v", err)
		}
	}
	return ctx.Err()
}
