package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// LearningPathStepResponse is one step of a path.
type LearningPathStepResponse struct {
	ID          uint      `json:"id"`
	StepOrder   int       `json:"step_order"`
	ProblemID   uuid.UUID `json:"problem_id"`
	NumericID   int       `json:"numeric_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Difficulty  string    `json:"difficulty,omitempty"`
	Completed   bool      `json:"completed"`
}

// LearningPathResponse describes a learning path.
type LearningPathResponse struct {
	ID             uint                       `json:"id"`
	Slug           string                     `json:"slug"`
	Name           string                     `json:"name"`
	Description    string                     `json:"description"`
	Difficulty     string                     `json:"difficulty"`
	EstimatedHours int                        `json:"estimated_hours"`
	StepCount      int                        `json:"step_count"`
	Steps          []LearningPathStepResponse `json:"steps,omitempty"`
}

// LearningPathProgressResponse is a session's position within a path.
type LearningPathProgressResponse struct {
	LearningPathID uint       `json:"learning_path_id"`
	CurrentStep    int        `json:"current_step"`
	CompletedSteps []uint     `json:"completed_steps"`
	TotalSteps     int        `json:"total_steps"`
	Percent        float64    `json:"percent"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NextProblemResponse points at the step after a given problem.
type NextProblemResponse struct {
	Finished bool                      `json:"finished"`
	Step     *LearningPathStepResponse `json:"step,omitempty"`
}

// NewLearningPathResponse builds the path view. Steps are included when
// withSteps is set.
func NewLearningPathResponse(path models.LearningPath, withSteps bool, completed map[uint]bool) LearningPathResponse {
	resp := LearningPathResponse{
		ID:             path.ID,
		Slug:           path.Slug,
		Name:           path.Name,
		Description:    path.Description,
		Difficulty:     path.Difficulty,
		EstimatedHours: path.EstimatedHours,
		StepCount:      len(path.Steps),
	}
	if withSteps {
		resp.Steps = make([]LearningPathStepResponse, 0, len(path.Steps))
		for _, step := range path.Steps {
			resp.Steps = append(resp.Steps, NewLearningPathStepResponse(step, completed[step.ID]))
		}
	}
	return resp
}

// NewLearningPathStepResponse builds the step view.
func NewLearningPathStepResponse(step models.LearningPathStep, completed bool) LearningPathStepResponse {
	resp := LearningPathStepResponse{
		ID:          step.ID,
		StepOrder:   step.StepOrder,
		ProblemID:   step.ProblemID,
		Title:       step.Title,
		Description: step.Description,
		Completed:   completed,
	}
	if step.Problem != nil {
		resp.NumericID = step.Problem.NumericID
		resp.Difficulty = step.Problem.Difficulty
		if resp.Title == "" {
			resp.Title = step.Problem.Title
		}
	}
	return resp
}
