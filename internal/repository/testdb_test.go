package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedProblem(t *testing.T, db *gorm.DB, numericID int, title, difficulty string) models.Problem {
	t.Helper()
	problem := models.Problem{
		NumericID:   numericID,
		Title:       title,
		Slug:        strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Description: "Describe " + title,
		Difficulty:  difficulty,
		IsActive:    true,
	}
	require.NoError(t, db.Create(&problem).Error)
	require.NotEqual(t, uuid.Nil, problem.ID)
	return problem
}
