package models

// WorkflowStep - один из шести упорядоченных этапов создания книги.
// Порядок важен: по позиции этапа Revision Engine решает, какие
// производные данные инвалидируются при повторном редактировании.
type WorkflowStep string

const (
	StepDetails    WorkflowStep = "details"
	StepSetting    WorkflowStep = "setting"
	StepCharacters WorkflowStep = "characters"
	StepReview     WorkflowStep = "review"
	StepImages     WorkflowStep = "images"
	StepComplete   WorkflowStep = "complete"
)

// stepOrder задает строгий порядок этапов.
var stepOrder = map[WorkflowStep]int{
	StepDetails:    0,
	StepSetting:    1,
	StepCharacters: 2,
	StepReview:     3,
	StepImages:     4,
	StepComplete:   5,
}

// Index возвращает позицию этапа в порядке workflow, или -1 для неизвестного этапа.
func (s WorkflowStep) Index() int {
	idx, ok := stepOrder[s]
	if !ok {
		return -1
	}
	return idx
}

// IsValid проверяет, что значение является допустимым этапом.
func (s WorkflowStep) IsValid() bool {
	_, ok := stepOrder[s]
	return ok
}

// AtOrBefore сообщает, находится ли этап s на позиции other или раньше.
func (s WorkflowStep) AtOrBefore(other WorkflowStep) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si <= oi
}
