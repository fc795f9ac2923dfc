package rules

// Question is one entry of an answer-set definition: the facts a
// question-answer constraint checks against.
type Question struct {
	LinkID    string   `json:"linkId"`
	Text      string   `json:"text,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Options   []string `json:"options,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
}

// AnswerSet is a referenced question/answer-set definition. Loading one is
// the caller's concern; the evaluator receives them already resolved.
type AnswerSet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Question finds a question by linkId.
func (a *AnswerSet) Question(linkID string) (*Question, bool) {
	for i := range a.Questions {
		if a.Questions[i].LinkID == linkID {
			return &a.Questions[i], true
		}
	}
	return nil, false
}

// AnswerSetIndex resolves answer-set references for question-answer rules.
type AnswerSetIndex interface {
	AnswerSet(id string) (*AnswerSet, bool)
}

// MapAnswerSetIndex is an in-memory AnswerSetIndex.
type MapAnswerSetIndex map[string]*AnswerSet

// AnswerSet implements AnswerSetIndex.
func (m MapAnswerSetIndex) AnswerSet(id string) (*AnswerSet, bool) {
	a, ok := m[id]
	return a, ok
}
