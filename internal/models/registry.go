package models

// All lists every model for auto-migration.
func All() []any {
	return []any{
		&Category{},
		&Problem{},
		&ProblemSchema{},
		&User{},
		&UserToken{},
		&Session{},
		&Attempt{},
		&ProgressRecord{},
		&Achievement{},
		&Streak{},
		&PerformanceMetric{},
		&QueryHistory{},
		&SavedQuery{},
		&LearningPath{},
		&LearningPathStep{},
		&LearningPathProgress{},
		&LearningPathStepCompletion{},
	}
}
