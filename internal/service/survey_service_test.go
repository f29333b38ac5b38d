package service

import (
	"advanced_survey_backend/internal/cache"
	"advanced_survey_backend/internal/model"
	"advanced_survey_backend/internal/survey"
	"advanced_survey_backend/internal/util"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const serviceTestQuestions = `[
	{"question_id": 0, "type": "rate", "header": "Content",
	 "prompts": [[0, "Useful"], [1, "Structured"]],
	 "options": [[0, "Good"], [1, "Okay"], [2, "Bad"]]},
	{"question_id": 1, "type": "free", "required": true, "prompt": "Liked?"}
]`

const optionalOnlyQuestions = `[
	{"question_id": 0, "type": "free", "prompt": "Anything else?"}
]`

type surveyFixture struct {
	svc      *SurveyService
	surveys  *memSurveyStore
	states   *memStateStore
	events   *recordingPublisher
	locker   cache.SubmissionLocker
	surveyID uint
}

func newSurveyFixture(t *testing.T, questions string, maxSubmissions int) *surveyFixture {
	t.Helper()
	f := &surveyFixture{
		surveys: newMemSurveyStore(),
		states:  newMemStateStore(),
		events:  &recordingPublisher{},
		locker:  cache.NewLocalLocker(),
	}
	f.svc = NewSurveyService(f.surveys, f.states, f.locker, f.events, &memEventStore{}, NewResultsPermission(nil), survey.DefaultMaxSubmissions)

	sv, err := f.svc.CreateSurvey(context.Background(), 99, CreateSurveyRequest{
		CourseID:       "course-v1:demo",
		Questions:      questions,
		MaxSubmissions: &maxSubmissions,
	})
	if err != nil {
		t.Fatalf("create survey: %v", err)
	}
	f.surveyID = sv.ID
	return f
}

func learner(id uint) *util.Claims {
	return &util.Claims{UserID: id, Username: "learner", Role: model.Student}
}

func completeForm() survey.FormData {
	return survey.FormData{
		"0": survey.RateValue(map[string]string{"0": "o-0", "1": "o-2"}),
		"1": survey.TextValue("the examples"),
	}
}

func TestSubmitTwiceWithSingleAttempt(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.surveyID, learner(1), completeForm())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Success || res.SubmissionsCount != 1 || res.CanSubmit {
		t.Fatalf("unexpected first result: %+v", res)
	}
	if got := f.events.names(); !reflect.DeepEqual(got, []string{util.EventCompletion, util.EventSubmitted}) {
		t.Fatalf("events = %v", got)
	}

	res, err = f.svc.Submit(ctx, f.surveyID, learner(1), completeForm())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Success || !reflect.DeepEqual(res.Errors, []string{survey.MsgAlreadyAnswered}) {
		t.Fatalf("second submit should be rejected, got %+v", res)
	}
	if len(f.events.names()) != 2 {
		t.Fatalf("rejected submit must not publish events")
	}

	st, _ := f.states.Find(ctx, f.surveyID, 1)
	if st.SubmissionsCount != 1 {
		t.Fatalf("count = %d, want 1", st.SubmissionsCount)
	}
}

func TestSubmitOptionalOnlySurvey(t *testing.T) {
	f := newSurveyFixture(t, optionalOnlyQuestions, 0)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.surveyID, learner(1), survey.FormData{})
	if err != nil || !res.Success || res.SubmissionsCount != 1 {
		t.Fatalf("blank submit: %+v, %v", res, err)
	}

	// 选答题留空也算作答，不限次数时同样不能重复提交
	res, err = f.svc.Submit(ctx, f.surveyID, learner(1), survey.FormData{})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Success || !reflect.DeepEqual(res.Errors, []string{survey.MsgAlreadyAnswered}) {
		t.Fatalf("second submit should be rejected, got %+v", res)
	}
	st, _ := f.states.Find(ctx, f.surveyID, 1)
	if st.SubmissionsCount != 1 {
		t.Fatalf("count = %d, want 1", st.SubmissionsCount)
	}
}

func TestSubmitQuota(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 2)
	ctx := context.Background()

	// 计数已满但没有答案的旧记录
	f.states.states[stateKey{f.surveyID, 1}] = model.SurveyLearnerState{SurveyID: f.surveyID, UserID: 1, SubmissionsCount: 2}

	res, err := f.svc.Submit(ctx, f.surveyID, learner(1), completeForm())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Success || !reflect.DeepEqual(res.Errors, []string{survey.MsgQuotaExceeded}) {
		t.Fatalf("submit should hit quota, got %+v", res)
	}
	if res.SubmissionsCount != 2 || res.CanSubmit {
		t.Fatalf("quota result = %+v", res)
	}
	if len(f.events.names()) != 0 {
		t.Fatalf("rejected submit must not publish events")
	}
}

func TestSubmitIncompleteForm(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)

	form := completeForm()
	delete(form, "1")
	res, err := f.svc.Submit(context.Background(), f.surveyID, learner(1), form)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Success || !reflect.DeepEqual(res.Errors, []string{survey.MsgIncomplete}) {
		t.Fatalf("got %+v", res)
	}
	if res.SubmissionsCount != 0 || !res.CanSubmit {
		t.Fatalf("incomplete submit must not consume an attempt: %+v", res)
	}
	if st, _ := f.states.Find(context.Background(), f.surveyID, 1); st != nil {
		t.Fatalf("nothing should be stored, got %+v", st)
	}
}

func TestSubmitWhileLocked(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	ctx := context.Background()

	unlock, err := f.locker.Lock(ctx, f.surveyID, 1)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	if _, err := f.svc.Submit(ctx, f.surveyID, learner(1), completeForm()); !errors.Is(err, util.ErrSubmissionBusy) {
		t.Fatalf("want ErrSubmissionBusy, got %v", err)
	}
}

func TestSubmitUnknownSurvey(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	if _, err := f.svc.Submit(context.Background(), 404, learner(1), completeForm()); !errors.Is(err, util.ErrSurveyNotFound) {
		t.Fatalf("want ErrSurveyNotFound, got %v", err)
	}
}

func TestSubmitEventFailureKeepsAnswers(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	f.events.err = errors.New("broker down")

	res, err := f.svc.Submit(context.Background(), f.surveyID, learner(1), completeForm())
	if err != nil || !res.Success {
		t.Fatalf("submit should succeed despite event failure: %+v, %v", res, err)
	}
}

func TestStaleAnswersAfterQuestionChange(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, f.surveyID, learner(1), completeForm()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// 作者新增必答题后，旧答案变为过期，计数清零后可重新提交
	changed := strings.Replace(serviceTestQuestions, `"prompt": "Liked?"}`,
		`"prompt": "Liked?"}, {"question_id": 2, "type": "free", "required": true, "prompt": "Why?"}`, 1)
	up, err := f.svc.UpdateStudio(ctx, f.surveyID, StudioUpdateRequest{Questions: changed, MaxSubmissions: 1})
	if err != nil || !up.Success {
		t.Fatalf("update studio: %+v, %v", up, err)
	}

	view, err := f.svc.GetLearnerView(ctx, f.surveyID, learner(1))
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.State != survey.HasStaleOrIncompleteAnswers.String() || view.Answers != nil {
		t.Fatalf("stale answers should be hidden: %+v", view)
	}

	form := completeForm()
	form["2"] = survey.TextValue("because")
	res, err := f.svc.Submit(ctx, f.surveyID, learner(1), form)
	if err != nil || !res.Success || res.SubmissionsCount != 1 {
		t.Fatalf("resubmit after change: %+v, %v", res, err)
	}
}

func TestCreateSurveyDefaults(t *testing.T) {
	svc := NewSurveyService(newMemSurveyStore(), newMemStateStore(), cache.NewLocalLocker(), &recordingPublisher{}, &memEventStore{}, NewResultsPermission(nil), 3)

	sv, err := svc.CreateSurvey(context.Background(), 7, CreateSurveyRequest{CourseID: "c1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sv.DisplayName != survey.DefaultDisplayName || sv.Feedback != survey.DefaultFeedback {
		t.Fatalf("defaults not applied: %+v", sv)
	}
	if sv.MaxSubmissions != 3 {
		t.Fatalf("max = %d, want configured default 3", sv.MaxSubmissions)
	}
	if sv.BlockName == "" {
		t.Fatalf("block name should be generated")
	}

	schema, err := survey.ParseSchema(sv.Questions)
	if err != nil {
		t.Fatalf("stored questions: %v", err)
	}
	if len(schema) != len(survey.DefaultSchema()) {
		t.Fatalf("want default questions, got %d", len(schema))
	}

	if _, err := svc.CreateSurvey(context.Background(), 7, CreateSurveyRequest{CourseID: "c1", Questions: "[{"}); err == nil {
		t.Fatalf("invalid questions should be rejected")
	}
}

func TestUpdateStudio(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	ctx := context.Background()
	before, _ := f.svc.GetStudioView(ctx, f.surveyID)

	res, err := f.svc.UpdateStudio(ctx, f.surveyID, StudioUpdateRequest{Questions: "  \n", Feedback: "changed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Success || !reflect.DeepEqual(res.Errors, []string{msgMustAddQuestions}) {
		t.Fatalf("blank questions: %+v", res)
	}

	res, err = f.svc.UpdateStudio(ctx, f.surveyID, StudioUpdateRequest{
		Questions: `[{"question_id": 0, "type": "slider"}]`,
		Feedback:  "changed",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Success || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "invalid questions") {
		t.Fatalf("bad questions: %+v", res)
	}

	after, _ := f.svc.GetStudioView(ctx, f.surveyID)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("failed update must not change settings:\n%+v\n%+v", before, after)
	}

	res, err = f.svc.UpdateStudio(ctx, f.surveyID, StudioUpdateRequest{
		Questions:      optionalOnlyQuestions,
		Feedback:       "thanks",
		MaxSubmissions: 0,
		BlockName:      "exit-survey",
	})
	if err != nil || !res.Success {
		t.Fatalf("valid update: %+v, %v", res, err)
	}
	after, _ = f.svc.GetStudioView(ctx, f.surveyID)
	if after.Feedback != "thanks" || after.MaxSubmissions != 0 || after.BlockName != "exit-survey" {
		t.Fatalf("settings not applied: %+v", after)
	}
}

func TestLearnerViewPermissions(t *testing.T) {
	f := newSurveyFixture(t, serviceTestQuestions, 1)
	ctx := context.Background()

	view, err := f.svc.GetLearnerView(ctx, f.surveyID, learner(1))
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.CanViewResults || !view.CanSubmit || view.State != survey.NeverSubmitted.String() {
		t.Fatalf("fresh learner view: %+v", view)
	}

	staff := &util.Claims{UserID: 2, Role: model.Teacher}
	view, err = f.svc.GetLearnerView(ctx, f.surveyID, staff)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !view.CanViewResults {
		t.Fatalf("staff should see results")
	}
}

func TestListEventsLimit(t *testing.T) {
	store := &memEventStore{}
	svc := NewSurveyService(newMemSurveyStore(), newMemStateStore(), cache.NewLocalLocker(), &recordingPublisher{}, store, NewResultsPermission(nil), 1)
	ctx := context.Background()
	for i := 0; i < 600; i++ {
		if err := store.Create(ctx, &model.SurveyEvent{SurveyID: 1, UserID: uint(i + 1), Name: util.EventSubmitted}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	cases := []struct {
		limit, want int
	}{
		{0, 100},
		{-3, 100},
		{20, 20},
		{500, 500},
		{10000, 500},
	}
	for _, tc := range cases {
		events, err := svc.ListEvents(ctx, 1, "", tc.limit)
		if err != nil {
			t.Fatalf("limit %d: %v", tc.limit, err)
		}
		if len(events) != tc.want {
			t.Fatalf("limit %d: got %d events, want %d", tc.limit, len(events), tc.want)
		}
	}
}
