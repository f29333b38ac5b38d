package service

import (
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/logger"
	"advanced_survey_backend/pkg/monitoring"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var ErrRunnerClosed = errors.New("export runner is shut down")

// JobOutcome 已结束任务的状态，Result 为任务原始返回值
type JobOutcome struct {
	Success bool
	Result  json.RawMessage
	Error   string
}

// ExportRunner 执行导出任务。
// Submit 返回任务 id；同步实现直接返回 outcome，此时任务 id 为空。
// Poll 在任务未结束时返回 nil, nil。
type ExportRunner interface {
	Submit(ctx context.Context, surveyID uint) (string, *JobOutcome, error)
	Poll(ctx context.Context, taskID string) (*JobOutcome, error)
}

type ExportTaskStore interface {
	CreateTask(ctx context.Context, task *model.SurveyExportTask) error
	FindTask(ctx context.Context, id string) (*model.SurveyExportTask, error)
	SaveTask(ctx context.Context, task *model.SurveyExportTask) error
	FailUnfinishedTasks(ctx context.Context, reason string) (int64, error)
}

// runJob 执行导出并记录指标，任务 panic 按失败处理
func runJob(ctx context.Context, job ExportJob, surveyID uint) (res *ExportResult, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("export panicked: %v", p)
		}
		status := model.ExportTaskSuccess
		if err != nil {
			status = model.ExportTaskFailure
		}
		monitoring.ExportsTotal.WithLabelValues(status).Inc()
		monitoring.ExportDuration.Observe(time.Since(start).Seconds())
	}()
	return job.Run(ctx, surveyID)
}

func outcomeOf(res *ExportResult, err error) *JobOutcome {
	if err != nil {
		return &JobOutcome{Error: err.Error()}
	}
	raw, mErr := json.Marshal(res)
	if mErr != nil {
		return &JobOutcome{Error: mErr.Error()}
	}
	return &JobOutcome{Success: true, Result: raw}
}

// EagerRunner 在请求内同步执行导出，用于开发和测试
type EagerRunner struct {
	Job ExportJob
}

func NewEagerRunner(job ExportJob) *EagerRunner {
	return &EagerRunner{Job: job}
}

func (r *EagerRunner) Submit(ctx context.Context, surveyID uint) (string, *JobOutcome, error) {
	return "", outcomeOf(runJob(ctx, r.Job, surveyID)), nil
}

func (r *EagerRunner) Poll(ctx context.Context, taskID string) (*JobOutcome, error) {
	return nil, util.ErrExportTaskNotFound
}

type exportRequest struct {
	taskID   string
	surveyID uint
}

// WorkerPoolRunner 固定数量的 goroutine 消费任务队列，任务状态持久化到数据库，
// 任何实例都可以查询。
type WorkerPoolRunner struct {
	Tasks   ExportTaskStore
	Job     ExportJob
	Timeout time.Duration

	workers int
	queue   chan exportRequest
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func NewWorkerPoolRunner(tasks ExportTaskStore, job ExportJob, workers, queueSize int, timeout time.Duration) *WorkerPoolRunner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPoolRunner{
		Tasks:   tasks,
		Job:     job,
		Timeout: timeout,
		workers: workers,
		queue:   make(chan exportRequest, queueSize),
	}
}

// Start 启动工作协程
func (r *WorkerPoolRunner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for req := range r.queue {
				monitoring.ExportQueueDepth.Dec()
				r.execute(req)
			}
		}()
	}
}

// Shutdown 停止接收新任务，等待队列中的任务执行完
func (r *WorkerPoolRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *WorkerPoolRunner) Submit(ctx context.Context, surveyID uint) (string, *JobOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", nil, ErrRunnerClosed
	}

	task := &model.SurveyExportTask{SurveyID: surveyID, Status: model.ExportTaskPending}
	if err := r.Tasks.CreateTask(ctx, task); err != nil {
		return "", nil, fmt.Errorf("create export task: %w", err)
	}

	select {
	case r.queue <- exportRequest{taskID: task.ID, surveyID: surveyID}:
		monitoring.ExportQueueDepth.Inc()
		return task.ID, nil, nil
	default:
		// 队列已满，任务直接记为失败
		r.finish(ctx, task, nil, errors.New("export queue is full, try again later"))
		return task.ID, taskOutcome(task), nil
	}
}

func (r *WorkerPoolRunner) Poll(ctx context.Context, taskID string) (*JobOutcome, error) {
	task, err := r.Tasks.FindTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, util.ErrExportTaskNotFound
	}
	if !task.Done() {
		return nil, nil
	}
	return taskOutcome(task), nil
}

// FailUnfinished 启动时调用，上次进程遗留的任务不会再被执行
func (r *WorkerPoolRunner) FailUnfinished(ctx context.Context) error {
	n, err := r.Tasks.FailUnfinishedTasks(ctx, "export interrupted by service restart")
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Log.Warn("marked interrupted export tasks as failed", zap.Int64("count", n))
	}
	return nil
}

func (r *WorkerPoolRunner) execute(req exportRequest) {
	ctx := context.Background()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	task, err := r.Tasks.FindTask(ctx, req.taskID)
	if err != nil || task == nil {
		logger.Log.Error("export task vanished", zap.String("taskID", req.taskID), zap.Error(err))
		return
	}

	now := time.Now()
	task.Status = model.ExportTaskRunning
	task.StartedAt = &now
	if err := r.Tasks.SaveTask(ctx, task); err != nil {
		logger.Log.Error("mark export task running", zap.String("taskID", task.ID), zap.Error(err))
	}

	res, err := runJob(ctx, r.Job, req.surveyID)
	// 任务超时后 ctx 已取消，结果仍需写回
	r.finish(context.Background(), task, res, err)
}

func (r *WorkerPoolRunner) finish(ctx context.Context, task *model.SurveyExportTask, res *ExportResult, jobErr error) {
	now := time.Now()
	task.FinishedAt = &now

	out := outcomeOf(res, jobErr)
	if out.Success {
		task.Status = model.ExportTaskSuccess
		task.Result = datatypes.JSON(out.Result)
	} else {
		task.Status = model.ExportTaskFailure
		task.Error = out.Error
		logger.Survey(task.SurveyID).Error("survey export failed",
			zap.String("taskID", task.ID),
			zap.String("error", out.Error),
		)
	}

	if err := r.Tasks.SaveTask(ctx, task); err != nil {
		logger.Log.Error("save export task", zap.String("taskID", task.ID), zap.Error(err))
	}
}

func taskOutcome(task *model.SurveyExportTask) *JobOutcome {
	if task.Status == model.ExportTaskSuccess {
		return &JobOutcome{Success: true, Result: json.RawMessage(task.Result)}
	}
	return &JobOutcome{Error: task.Error}
}
