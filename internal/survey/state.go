package survey

// State 学员相对当前问卷的提交状态
type State int

const (
	NeverSubmitted State = iota
	HasCompleteAnswers
	HasStaleOrIncompleteAnswers
)

func (s State) String() string {
	switch s {
	case NeverSubmitted:
		return "never_submitted"
	case HasCompleteAnswers:
		return "complete"
	case HasStaleOrIncompleteAnswers:
		return "stale"
	}
	return "unknown"
}

// LearnerState 单个学员在单个问卷实例上的持久化状态
type LearnerState struct {
	Answers          AnswerMap
	SubmissionsCount int
}

// CanSubmit maxSubmissions 为 0 表示不限次数
func CanSubmit(maxSubmissions, submissionsCount int) bool {
	return maxSubmissions == 0 || submissionsCount < maxSubmissions
}

// Evaluate 计算已存答案所处的状态
func Evaluate(schema Schema, answers AnswerMap) State {
	if len(answers) == 0 {
		return NeverSubmitted
	}
	if _, ok := Validate(schema, answers); ok {
		return HasCompleteAnswers
	}
	return HasStaleOrIncompleteAnswers
}

// Outcome 一次提交尝试的结果。State 为提交后应持久化的状态，
// Changed 为 false 时无需写库。
type Outcome struct {
	Success          bool
	Errors           []string
	State            LearnerState
	Changed          bool
	CanSubmit        bool
	SubmissionsCount int
	MaxSubmissions   int
}

// Submit 提交状态机：已有完整答案直接拒绝；过期答案先清零计数；再检查次数上限；最后校验表单。
func Submit(schema Schema, maxSubmissions int, current LearnerState, form FormData) Outcome {
	next := current
	out := Outcome{MaxSubmissions: maxSubmissions}

	reject := func(msg string) Outcome {
		out.Errors = []string{msg}
		out.State = next
		out.CanSubmit = CanSubmit(maxSubmissions, next.SubmissionsCount)
		out.SubmissionsCount = next.SubmissionsCount
		return out
	}

	switch Evaluate(schema, current.Answers) {
	case HasCompleteAnswers:
		return reject(MsgAlreadyAnswered)
	case HasStaleOrIncompleteAnswers:
		if next.SubmissionsCount != 0 {
			next.SubmissionsCount = 0
			out.Changed = true
		}
	}

	if !CanSubmit(maxSubmissions, next.SubmissionsCount) {
		return reject(MsgQuotaExceeded)
	}

	acc := AcceptSubmission(schema, form)
	if !acc.OK() {
		return reject(acc.Errors[0])
	}

	next.Answers = acc.Answers
	next.SubmissionsCount++
	out.Success = true
	out.Changed = true
	out.State = next
	out.CanSubmit = CanSubmit(maxSubmissions, next.SubmissionsCount)
	out.SubmissionsCount = next.SubmissionsCount
	return out
}
