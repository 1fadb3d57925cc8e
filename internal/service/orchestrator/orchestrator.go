// Package orchestrator runs campaigns in the background on a bounded worker
// pool. Failed runs are retried with exponential backoff and every running job
// can be cancelled by campaign id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// Job is one queued campaign run.
type Job struct {
	CampaignID string
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
	Timeout    time.Duration
}

// CampaignExecutor runs a campaign until it is terminal or stalled. A nil
// error means no further run is needed.
type CampaignExecutor interface {
	ExecuteCampaign(ctx context.Context, campaignID string) error
}

type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	JobTimeout time.Duration
	MaxBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:    4,
		QueueSize:  100,
		MaxRetries: 3,
		JobTimeout: 10 * time.Minute,
		MaxBackoff: time.Minute,
	}
}

type Orchestrator struct {
	jobQueue    *jobQueue
	retryQueue  *jobQueue
	retryTicker *time.Ticker

	pool *ants.Pool
	opts Options

	executor CampaignExecutor

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	loops    sync.WaitGroup

	active      map[string]*activeJob
	cancelMutex sync.Mutex
}

type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrQueueFull           = errors.New("job queue is full")
	ErrAlreadyQueued       = errors.New("campaign is already queued or running")
)

// NewCampaignJob creates a job with the orchestrator defaults.
func (o *Orchestrator) NewCampaignJob(campaignID string) *Job {
	return &Job{
		CampaignID: campaignID,
		EnqueuedAt: time.Now(),
		MaxRetries: o.opts.MaxRetries,
		Timeout:    o.opts.JobTimeout,
	}
}

func NewOrchestrator(opts Options, executor CampaignExecutor) (*Orchestrator, error) {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaults.JobTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}

	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(opts.QueueSize),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		klog.Errorf("[Orchestrator] ants pool initialization failed: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobQueue:    newJobQueue(opts.QueueSize),
		retryQueue:  newJobQueue(opts.QueueSize),
		retryTicker: time.NewTicker(500 * time.Millisecond),
		pool:        pool,
		opts:        opts,
		active:      make(map[string]*activeJob),
		executor:    executor,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (o *Orchestrator) Start() {
	o.loops.Add(2)
	go o.dispatchLoop()
	go o.processRetryQueue()
}

// Stop rejects new jobs, drops queued ones and waits for running jobs to
// observe cancellation.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("[Orchestrator] stopping: queued=%d, retrying=%d, running=%d", o.jobQueue.Len(), o.retryQueue.Len(), o.pool.Running())

		o.cancel()
		o.jobQueue.Close()
		o.retryQueue.Close()
		o.loops.Wait()

		timeout := o.opts.JobTimeout + 5*time.Second
		if err := o.pool.ReleaseTimeout(timeout); err != nil {
			klog.Warningf("[Orchestrator] timeout after %v: some running jobs may be forced to stop", timeout)
		}
		klog.V(6).Infof("[Orchestrator] stopped")
	})
}

func (o *Orchestrator) EnqueueJob(job *Job) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	if o.isActive(job.CampaignID) || o.jobQueue.Contains(job.CampaignID) || o.retryQueue.Contains(job.CampaignID) {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, job.CampaignID)
	}
	if err := o.jobQueue.Enqueue(job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("[Orchestrator] job queue full: campaignID=%s", job.CampaignID)
		}
		return err
	}
	klog.V(6).Infof("[Orchestrator] job enqueued: campaignID=%s", job.CampaignID)
	return nil
}

// EnqueueCampaign queues a run for campaignID with default job settings.
func (o *Orchestrator) EnqueueCampaign(campaignID string) error {
	return o.EnqueueJob(o.NewCampaignJob(campaignID))
}

func (o *Orchestrator) EnqueueBatch(jobs []*Job) error {
	var failed int
	for _, job := range jobs {
		if err := o.EnqueueJob(job); err != nil {
			klog.Warningf("[Orchestrator] batch enqueue failed: campaignID=%s, err=%v", job.CampaignID, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to enqueue %d jobs (total %d)", failed, len(jobs))
	}
	return nil
}

func (o *Orchestrator) registerCancel(campaignID string, cancel context.CancelFunc) *activeJob {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	job := &activeJob{cancel: cancel, done: make(chan struct{})}
	o.active[campaignID] = job
	return job
}

func (o *Orchestrator) unregisterCancel(campaignID string, job *activeJob) {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	if o.active[campaignID] == job {
		delete(o.active, campaignID)
	}
	close(job.done)
}

func (o *Orchestrator) isActive(campaignID string) bool {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	_, ok := o.active[campaignID]
	return ok
}

// CancelCampaign stops a queued or running job. It waits up to five seconds
// for a running job to return and reports whether anything was cancelled.
func (o *Orchestrator) CancelCampaign(campaignID string) bool {
	removed := o.jobQueue.Remove(campaignID)
	if o.retryQueue.Remove(campaignID) {
		removed = true
	}

	o.cancelMutex.Lock()
	job, ok := o.active[campaignID]
	o.cancelMutex.Unlock()
	if !ok {
		if removed {
			klog.V(6).Infof("[Orchestrator] queued job removed: campaignID=%s", campaignID)
		}
		return removed
	}

	klog.V(6).Infof("[Orchestrator] cancelling campaign: campaignID=%s", campaignID)
	job.cancel()

	select {
	case <-job.done:
	case <-time.After(5 * time.Second):
		klog.Warningf("[Orchestrator] cancel timeout: campaignID=%s", campaignID)
	case <-o.ctx.Done():
	}
	return true
}

func (o *Orchestrator) dispatchLoop() {
	defer o.loops.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		default:
			job, ok := o.jobQueue.Dequeue()
			if !ok {
				return
			}
			o.tryDispatch(job)
		}
	}
}

func (o *Orchestrator) processRetryQueue() {
	defer o.loops.Done()
	defer o.retryTicker.Stop()
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[Orchestrator] retry loop panic recovered: %v", r)
		}
	}()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.retryTicker.C:
			for range 10 {
				job, ok := o.retryQueue.TryDequeue()
				if !ok {
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							klog.Errorf("[Orchestrator] retry dispatch panic: campaignID=%s, err=%v", job.CampaignID, r)
						}
					}()
					o.tryDispatch(job)
				}()
			}
		}
	}
}

// tryDispatch submits job to the pool. When the pool refuses it the job goes
// to the retry queue until its retry budget is spent.
func (o *Orchestrator) tryDispatch(job *Job) {
	if job.MaxRetries <= 0 || job.RetryCount >= job.MaxRetries {
		klog.Warningf("[Orchestrator] retry limit reached, dropping job: campaignID=%s, retry=%d/%d", job.CampaignID, job.RetryCount, job.MaxRetries)
		return
	}
	err := o.pool.Submit(func() {
		o.executeJob(job)
	})
	if err == nil {
		return
	}
	klog.Errorf("[Orchestrator] submit to pool failed: campaignID=%s, err=%v", job.CampaignID, err)

	job.RetryCount++
	if job.RetryCount >= job.MaxRetries {
		klog.Warningf("[Orchestrator] retry limit reached, dropping job: campaignID=%s, retry=%d/%d", job.CampaignID, job.RetryCount, job.MaxRetries)
		return
	}
	if err := o.retryQueue.Enqueue(job); err != nil {
		klog.Errorf("[Orchestrator] retry enqueue failed: campaignID=%s, err=%v", job.CampaignID, err)
	}
}

// executeJob runs the campaign, retrying failed runs with exponential backoff
// inside the job timeout.
func (o *Orchestrator) executeJob(job *Job) {
	if o.ctx.Err() != nil {
		return
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = o.opts.JobTimeout
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()
	runCtx, manualCancel := context.WithCancel(ctx)
	defer manualCancel()

	active := o.registerCancel(job.CampaignID, manualCancel)
	defer o.unregisterCancel(job.CampaignID, active)
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[Orchestrator] job panic recovered: campaignID=%s, err=%v", job.CampaignID, r)
		}
	}()

	for i := job.RetryCount; i < job.MaxRetries; i++ {
		job.RetryCount = i

		err := o.executor.ExecuteCampaign(runCtx, job.CampaignID)
		if err == nil {
			klog.V(6).Infof("[Orchestrator] job completed: campaignID=%s", job.CampaignID)
			return
		}
		if runCtx.Err() != nil {
			klog.Warningf("[Orchestrator] job cancelled or timed out: campaignID=%s, err=%v", job.CampaignID, err)
			return
		}
		if i == job.MaxRetries-1 {
			break
		}

		backoff := time.Second << i
		if backoff > o.opts.MaxBackoff {
			backoff = o.opts.MaxBackoff
		}
		klog.Warningf("[Orchestrator] job failed: campaignID=%s, retry=%d/%d, err=%v, backoff=%v",
			job.CampaignID, i+1, job.MaxRetries, err, backoff)

		select {
		case <-runCtx.Done():
			klog.Warningf("[Orchestrator] job cancelled or timed out: campaignID=%s", job.CampaignID)
			return
		case <-time.After(backoff):
		}
	}

	klog.Errorf("[Orchestrator] job failed after retry limit: campaignID=%s", job.CampaignID)
}

type QueueStatus struct {
	QueueLength     int      `json:"queue_length"`
	RetryLength     int      `json:"retry_length"`
	ActiveWorkers   int      `json:"active_workers"`
	ActiveCampaigns []string `json:"active_campaigns"`
}

func (o *Orchestrator) GetQueueStatus() *QueueStatus {
	o.cancelMutex.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.cancelMutex.Unlock()

	return &QueueStatus{
		QueueLength:     o.jobQueue.Len(),
		RetryLength:     o.retryQueue.Len(),
		ActiveWorkers:   o.pool.Running(),
		ActiveCampaigns: ids,
	}
}
