package survey

const (
	DefaultDisplayName    = "Advanced Survey"
	DefaultFeedback       = "Thank you for submitting this survey!"
	DefaultMaxSubmissions = 1
)

const defaultQuestionsText = `[
  {"question_id": 0, "type": "rate", "header": "Content",
   "prompts": [[0, "Content was useful"], [1, "Content was well structured"], [2, "Content was rich"]],
   "options": [[0, "Excellent"], [1, "Very Good"], [2, "Good"], [3, "Okay"], [4, "Not Okay"]]},
  {"question_id": 1, "type": "rate",
   "prompts": [[0, "How do you describe the number of lessons"], [1, "How do you describe the size of each lesson"]],
   "options": [[0, "Low/Small"], [1, "Fair"], [2, "High/Big"]]},
  {"question_id": 2, "type": "rate", "header": "Instructor",
   "prompts": [[0, "Spoke clearly"], [1, "Explained complex issues"], [2, "Gives examples"]],
   "options": [[0, "Excellent"], [1, "Very Good"], [2, "Good"], [3, "Okay"], [4, "Not Okay"]]},
  {"question_id": 3, "type": "free", "required": true, "header": "Tell us more",
   "prompt": "What are some things you liked about this course?"},
  {"question_id": 4, "type": "free",
   "prompt": "What are some things you did not like about this course?"}
]`

// DefaultSchema 新建问卷时使用的默认题目
func DefaultSchema() Schema {
	return MustParseSchema(defaultQuestionsText)
}
