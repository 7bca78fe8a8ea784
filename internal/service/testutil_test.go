package service

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

const customersSetupSQL = `CREATE TABLE customers (customer_id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT);
INSERT INTO customers (customer_id, name, city) VALUES (1, 'Ada', 'London'), (2, 'Linus', 'Helsinki'), (3, 'Grace', 'New York');`

const customersSolutionSQL = "SELECT name FROM customers WHERE city = 'London'"

func newTestDB(t *testing.T) *gorm.DB {
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

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newTestSandbox(t *testing.T) *sandbox.Executor {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return sandbox.NewExecutor(db, sandbox.Config{
		Flavor:        sandbox.FlavorSQLite,
		MaxConcurrent: 1,
		Logger:        zerolog.Nop(),
	})
}

func seedCustomersProblem(t *testing.T, db *gorm.DB, numericID int) (models.Problem, models.ProblemSchema) {
	t.Helper()

	problem := models.Problem{
		NumericID:   numericID,
		Title:       fmt.Sprintf("Acme customers %d", numericID),
		Slug:        fmt.Sprintf("acme-customers-%d", numericID),
		Description: "List the names of customers living in London.",
		Difficulty:  models.DifficultyEasy,
		Hints:       datatypes.JSON(`["Filter on the city column"]`),
		IsActive:    true,
	}
	require.NoError(t, db.Create(&problem).Error)
	require.NotEqual(t, uuid.Nil, problem.ID)

	schema := models.ProblemSchema{
		ProblemID:      problem.ID,
		Dialect:        "postgresql",
		SetupSQL:       customersSetupSQL,
		SolutionSQL:    customersSolutionSQL,
		ExpectedOutput: datatypes.JSON(`[["Ada"]]`),
		IsActive:       true,
	}
	require.NoError(t, db.Create(&schema).Error)
	return problem, schema
}
