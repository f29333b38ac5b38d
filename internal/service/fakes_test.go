package service

import (
	"advanced_survey_backend/internal/model"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type memSurveyStore struct {
	mu      sync.Mutex
	nextID  uint
	surveys map[uint]model.Survey
}

func newMemSurveyStore() *memSurveyStore {
	return &memSurveyStore{surveys: make(map[uint]model.Survey)}
}

func (m *memSurveyStore) Create(ctx context.Context, s *model.Survey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.surveys[s.ID] = *s
	return nil
}

func (m *memSurveyStore) FindByID(ctx context.Context, id uint) (*model.Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surveys[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSurveyStore) UpdateSettings(ctx context.Context, s *model.Survey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.surveys[s.ID]
	if !ok {
		return errors.New("no such survey")
	}
	cur.Questions = s.Questions
	cur.Feedback = s.Feedback
	cur.MaxSubmissions = s.MaxSubmissions
	cur.BlockName = s.BlockName
	m.surveys[s.ID] = cur
	return nil
}

type stateKey struct{ survey, user uint }

// memStateStore Mutate 持有互斥锁执行整个回调，相当于行锁
type memStateStore struct {
	mu     sync.Mutex
	states map[stateKey]model.SurveyLearnerState
	users  map[uint]*model.User
	clock  time.Time
}

func newMemStateStore() *memStateStore {
	return &memStateStore{
		states: make(map[stateKey]model.SurveyLearnerState),
		users:  make(map[uint]*model.User),
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStateStore) Find(ctx context.Context, surveyID, userID uint) (*model.SurveyLearnerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey{surveyID, userID}]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memStateStore) Mutate(ctx context.Context, surveyID, userID uint, fn func(st *model.SurveyLearnerState) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey{surveyID, userID}
	st, ok := m.states[key]
	if !ok {
		st = model.SurveyLearnerState{SurveyID: surveyID, UserID: userID}
	}
	changed, err := fn(&st)
	if err != nil || !changed {
		return err
	}
	m.clock = m.clock.Add(time.Minute)
	st.UpdatedAt = m.clock
	m.states[key] = st
	return nil
}

func (m *memStateStore) ListForExport(ctx context.Context, surveyID uint) ([]model.SurveyLearnerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SurveyLearnerState
	for k, st := range m.states {
		if k.survey == surveyID {
			st.User = m.users[k.user]
			out = append(out, st)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SurveyEventMessage
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev SurveyEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, ev := range p.events {
		names = append(names, ev.Name)
	}
	return names
}

type memEventStore struct {
	mu     sync.Mutex
	events []model.SurveyEvent
}

func (m *memEventStore) Create(ctx context.Context, e *model.SurveyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uint(len(m.events) + 1)
	m.events = append(m.events, *e)
	return nil
}

func (m *memEventStore) ListBySurvey(ctx context.Context, surveyID uint, name string, limit int) ([]model.SurveyEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SurveyEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.SurveyID != surveyID || (name != "" && e.Name != name) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// memExportStore 同时实现导出记录和任务存储
type memExportStore struct {
	mu      sync.Mutex
	records map[uint]model.SurveyExportRecord
	tasks   map[string]model.SurveyExportTask
	nextID  int
}

func newMemExportStore() *memExportStore {
	return &memExportStore{
		records: make(map[uint]model.SurveyExportRecord),
		tasks:   make(map[string]model.SurveyExportTask),
	}
}

func (m *memExportStore) UpdateRecord(ctx context.Context, surveyID uint, fn func(rec *model.SurveyExportRecord) (bool, error)) (*model.SurveyExportRecord, error) {
	m.mu.Lock()
	rec, ok := m.records[surveyID]
	if !ok {
		rec = model.SurveyExportRecord{SurveyID: surveyID}
	}
	m.mu.Unlock()

	// 回调里会访问任务表，这里不能持锁
	changed, err := fn(&rec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if changed || !ok {
		m.records[surveyID] = rec
	}
	out := m.records[surveyID]
	return &out, nil
}

func (m *memExportStore) CreateTask(ctx context.Context, task *model.SurveyExportTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	task.ID = fmt.Sprintf("task-%d", m.nextID)
	m.tasks[task.ID] = *task
	return nil
}

func (m *memExportStore) FindTask(ctx context.Context, id string) (*model.SurveyExportTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &task, nil
}

func (m *memExportStore) SaveTask(ctx context.Context, task *model.SurveyExportTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *memExportStore) FailUnfinishedTasks(ctx context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, task := range m.tasks {
		if !task.Done() {
			task.Status = model.ExportTaskFailure
			task.Error = reason
			m.tasks[id] = task
			n++
		}
	}
	return n, nil
}

func (m *memExportStore) taskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type memProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemProvider() *memProvider {
	return &memProvider{objects: make(map[string][]byte)}
}

func (p *memProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = buf.Bytes()
	return nil
}

func (p *memProvider) URLFor(ctx context.Context, key string, expiry time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[key]; !ok {
		return "", errors.New("object not found")
	}
	return "https://files.test/" + key, nil
}

// gatedJob 在 release 关闭前阻塞，用于模拟进行中的任务
type gatedJob struct {
	release chan struct{}
	result  *ExportResult
	err     error

	mu    sync.Mutex
	calls int
}

func newGatedJob(result *ExportResult, err error) *gatedJob {
	return &gatedJob{release: make(chan struct{}), result: result, err: err}
}

func (j *gatedJob) Run(ctx context.Context, surveyID uint) (*ExportResult, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	<-j.release
	return j.result, j.err
}

func (j *gatedJob) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

type funcJob func(ctx context.Context, surveyID uint) (*ExportResult, error)

func (f funcJob) Run(ctx context.Context, surveyID uint) (*ExportResult, error) {
	return f(ctx, surveyID)
}
