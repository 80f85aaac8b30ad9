package session

import (
	"github.com/pavelanni/assessor/internal/model"
)

// orderedSet is a set of question indices that remembers insertion order.
type orderedSet struct {
	items []int
}

func newOrderedSet(items []int) orderedSet {
	var s orderedSet
	for _, i := range items {
		s.add(i)
	}
	return s
}

func (s *orderedSet) has(i int) bool {
	for _, v := range s.items {
		if v == i {
			return true
		}
	}
	return false
}

func (s *orderedSet) add(i int) {
	if !s.has(i) {
		s.items = append(s.items, i)
	}
}

func (s *orderedSet) remove(i int) {
	for k, v := range s.items {
		if v == i {
			s.items = append(s.items[:k], s.items[k+1:]...)
			return
		}
	}
}

func (s *orderedSet) len() int { return len(s.items) }

func (s *orderedSet) slice() []int {
	out := make([]int, len(s.items))
	copy(out, s.items)
	return out
}

// AnswerStore maps question indices to answers and tracks which questions
// are completed and which are skipped. The two sets never overlap.
type AnswerStore struct {
	answers   map[int]model.Answer
	completed orderedSet
	skipped   orderedSet
}

// NewAnswerStore returns an empty store.
func NewAnswerStore() *AnswerStore {
	return &AnswerStore{answers: make(map[int]model.Answer)}
}

// Save upserts one field of an answer and marks the question completed.
func (s *AnswerStore) Save(index int, kind model.AnswerKind, value string) {
	a := s.answers[index]
	switch kind {
	case model.AnswerText:
		a.Text = value
	case model.AnswerCode:
		a.Code = value
	}
	s.answers[index] = a
	s.MarkCompleted(index)
}

// Get returns the answer recorded for index.
func (s *AnswerStore) Get(index int) (model.Answer, bool) {
	a, ok := s.answers[index]
	return a, ok
}

// All returns a copy of every recorded answer.
func (s *AnswerStore) All() map[int]model.Answer {
	out := make(map[int]model.Answer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// MarkCompleted moves index into the completed set.
func (s *AnswerStore) MarkCompleted(index int) {
	s.skipped.remove(index)
	s.completed.add(index)
}

// MarkSkipped moves index into the skipped set.
func (s *AnswerStore) MarkSkipped(index int) {
	s.completed.remove(index)
	s.skipped.add(index)
}

func (s *AnswerStore) IsCompleted(index int) bool { return s.completed.has(index) }
func (s *AnswerStore) IsSkipped(index int) bool   { return s.skipped.has(index) }

// Completed returns completed indices in completion order.
func (s *AnswerStore) Completed() []int { return s.completed.slice() }

// Skipped returns skipped indices in the order they were skipped.
func (s *AnswerStore) Skipped() []int { return s.skipped.slice() }

// Status reports the per-question outcome used by scoring and reports.
func (s *AnswerStore) Status(index int) model.QuestionStatus {
	switch {
	case s.completed.has(index):
		return model.StatusCompleted
	case s.skipped.has(index):
		return model.StatusSkipped
	default:
		return model.StatusNotAttempted
	}
}

func restoreAnswerStore(answers map[int]model.Answer, completed, skipped []int) *AnswerStore {
	s := NewAnswerStore()
	for k, v := range answers {
		s.answers[k] = v
	}
	s.completed = newOrderedSet(completed)
	s.skipped = newOrderedSet(nil)
	for _, i := range skipped {
		if !s.completed.has(i) {
			s.skipped.add(i)
		}
	}
	return s
}
