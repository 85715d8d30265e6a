package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"resume-gpt/internal/constants"
)

// ErrQueueFull is returned when the job queue cannot take another upload.
var ErrQueueFull = errors.New("job queue is full")

const jobQueueSize = 100

// Job is one uploaded PDF waiting for, or going through, the pipeline
type Job struct {
	ID         string
	Filename   string
	PDFPath    string
	TemplateID string
	Mode       string
	Strict     bool
	Status     string // "pending", "in_progress", "completed", "failed"
	CreatedAt  time.Time
	UpdatedAt  time.Time

	result *UploadResult
	err    error
	done   chan struct{}
}

// Done is closed once the job has a result or an error.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Outcome returns the result of a finished job.
func (j *Job) Outcome() (*UploadResult, error) {
	return j.result, j.err
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs  map[string]*Job
	queue chan *Job
}

// NewJobStore creates an empty store with a buffered queue.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]*Job),
		queue: make(chan *Job, jobQueueSize),
	}
}

func generateJobID() string {
	return uuid.New().String()
}

func newJob(id, filename, pdfPath, templateID string, s Settings) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		Filename:   filename,
		PDFPath:    pdfPath,
		TemplateID: templateID,
		Mode:       s.GenerationMode,
		Strict:     s.StrictMode,
		Status:     "pending",
		CreatedAt:  now,
		UpdatedAt:  now,
		done:       make(chan struct{}),
	}
}

// submit registers job and queues it. A full queue is reported instead of
// blocking the caller.
func (store *JobStore) submit(job *Job) error {
	store.Lock()
	defer store.Unlock()
	select {
	case store.queue <- job:
		store.jobs[job.ID] = job
		log.WithField("upload_id", job.ID).Debug("Job queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// JobView is a copy of the public state of a job.
type JobView struct {
	ID         string    `json:"job_id"`
	Filename   string    `json:"filename"`
	TemplateID string    `json:"template_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (job *Job) view() JobView {
	v := JobView{
		ID:         job.ID,
		Filename:   job.Filename,
		TemplateID: job.TemplateID,
		Status:     job.Status,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.err != nil {
		v.Error = job.err.Error()
	}
	return v
}

func (store *JobStore) getJob(jobID string) (JobView, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return JobView{}, false
	}
	return job.view(), true
}

// GetAllJobs returns the jobs, newest first.
func (store *JobStore) GetAllJobs() []JobView {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]JobView, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, job.view())
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
}

// finish stores the outcome of job and wakes up its waiters.
func (store *JobStore) finish(job *Job, result *UploadResult, err error) {
	store.Lock()
	job.result, job.err = result, err
	job.Status = "completed"
	if err != nil {
		job.Status = "failed"
	}
	job.UpdatedAt = time.Now()
	store.Unlock()
	close(job.done)
}

// pruneBefore forgets finished jobs last updated before cutoff.
func (store *JobStore) pruneBefore(cutoff time.Time) int {
	store.Lock()
	defer store.Unlock()
	removed := 0
	for id, job := range store.jobs {
		if (job.Status == "completed" || job.Status == "failed") && job.UpdatedAt.Before(cutoff) {
			delete(store.jobs, id)
			removed++
		}
	}
	return removed
}

// startWorkerPool starts numWorkers goroutines draining the job queue until
// ctx is done.
func startWorkerPool(ctx context.Context, app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			log.Infof("Worker %d started", workerID)
			for {
				select {
				case <-ctx.Done():
					log.Infof("Worker %d stopped", workerID)
					return
				case job := <-app.Jobs.queue:
					log.Infof("Worker %d processing job: %s", workerID, job.ID)
					processJob(ctx, app, job)
				}
			}
		}(i)
	}
}

func processJob(ctx context.Context, app *App, job *Job) {
	app.Jobs.updateJobStatus(job.ID, "in_progress")

	result, err := app.processUpload(ctx, job)
	if err != nil {
		uploadLogger(job.ID).WithError(err).Error("Pipeline failed")
		app.setStage(job.ID, constants.StageError, "Error: "+err.Error())
	}
	app.Jobs.finish(job, result, err)
}

// Progress is the client-facing state of one upload.
type Progress struct {
	Stage    string    `json:"stage"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
	Updated  time.Time `json:"updated_at"`
}

// ProgressStore tracks the progress of uploads by id.
type ProgressStore struct {
	sync.RWMutex
	entries map[string]Progress
}

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{entries: make(map[string]Progress)}
}

// Set records stage for id.
func (p *ProgressStore) Set(id, stage, message string) {
	p.Lock()
	defer p.Unlock()
	p.entries[id] = Progress{
		Stage:    stage,
		Message:  message,
		Progress: constants.StageProgress[stage],
		Updated:  time.Now(),
	}
}

// Get returns the progress of id. Unknown ids are still initializing.
func (p *ProgressStore) Get(id string) Progress {
	p.RLock()
	defer p.RUnlock()
	if entry, ok := p.entries[id]; ok {
		return entry
	}
	return Progress{
		Stage:    constants.StageInitializing,
		Message:  "Starting...",
		Progress: constants.StageProgress[constants.StageInitializing],
	}
}

// pruneBefore forgets entries last updated before cutoff.
func (p *ProgressStore) pruneBefore(cutoff time.Time) int {
	p.Lock()
	defer p.Unlock()
	removed := 0
	for id, entry := range p.entries {
		if entry.Updated.Before(cutoff) {
			delete(p.entries, id)
			removed++
		}
	}
	return removed
}
