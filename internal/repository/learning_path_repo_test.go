package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

func TestLearningPathUpsertAndCompletion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLearningPathRepository(db)
	ctx := context.Background()

	p1 := seedProblem(t, db, 1, "Select Basics", models.DifficultyEasy)
	p2 := seedProblem(t, db, 2, "Filter Rows", models.DifficultyEasy)

	path := models.LearningPath{
		Slug:     "foundations",
		Name:     "Foundations",
		IsActive: true,
		Steps: []models.LearningPathStep{
			{StepOrder: 1, ProblemID: p1.ID, Title: "Select"},
			{StepOrder: 2, ProblemID: p2.ID, Title: "Where"},
		},
	}
	require.NoError(t, repo.UpsertPath(ctx, &path))

	path.Name = "Foundations v2"
	path.Steps = []models.LearningPathStep{
		{StepOrder: 1, ProblemID: p1.ID, Title: "Select"},
		{StepOrder: 2, ProblemID: p2.ID, Title: "Where"},
	}
	require.NoError(t, repo.UpsertPath(ctx, &path))

	stored, err := repo.GetByID(ctx, path.ID)
	require.NoError(t, err)
	require.Equal(t, "Foundations v2", stored.Name)
	require.Len(t, stored.Steps, 2)
	require.Equal(t, 1, stored.Steps[0].StepOrder)
	require.NotNil(t, stored.Steps[1].Problem)

	containing, err := repo.PathsForProblem(ctx, p2.ID)
	require.NoError(t, err)
	require.Len(t, containing, 1)

	none, err := repo.PathsForProblem(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, none)

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	progress, err := repo.CompleteStep(ctx, "s-1", stored.Steps[0], len(stored.Steps), at)
	require.NoError(t, err)
	require.Equal(t, 2, progress.CurrentStep)
	require.Nil(t, progress.CompletedAt)

	progress, err = repo.CompleteStep(ctx, "s-1", stored.Steps[1], len(stored.Steps), at)
	require.NoError(t, err)
	require.NotNil(t, progress.CompletedAt)

	progress, err = repo.CompleteStep(ctx, "s-1", stored.Steps[1], len(stored.Steps), at.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, at.Equal(*progress.CompletedAt))

	done, err := repo.CompletedSteps(ctx, "s-1", path.ID)
	require.NoError(t, err)
	require.Len(t, done, 2)
}
