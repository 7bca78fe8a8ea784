package service

import (
	"errors"
	"strings"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/sqlguard"
)

var (
	ErrProblemNotFound      = errors.New("problem not found")
	ErrSchemaNotFound       = errors.New("problem schema not found")
	ErrUnsupportedDialect   = dialect.ErrUnsupportedDialect
	ErrSessionRequired      = errors.New("session id is required")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserInactive         = errors.New("account is deactivated")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrTokenRevoked         = errors.New("token has been revoked")
	ErrLearningPathNotFound = errors.New("learning path not found")
	ErrStepNotFound         = errors.New("learning path step not found")
	ErrSavedQueryNotFound   = errors.New("saved query not found")
	ErrSavedQueryConflict   = errors.New("a saved query with this name already exists")
	ErrInvalidBackup        = errors.New("invalid backup document")
	ErrArchiveUnavailable   = errors.New("backup archive storage is not configured")
	ErrSolutionTruncated    = errors.New("solution returns more rows than the sandbox row limit")
)

// QueryRejectedError is returned when the security validator refuses a query.
// Nothing has been executed when it is returned.
type QueryRejectedError struct {
	Result sqlguard.Result
}

func (e *QueryRejectedError) Error() string {
	reasons := e.Result.Reasons()
	if len(reasons) == 0 {
		return "query rejected"
	}
	return "query rejected: " + strings.Join(reasons, "; ")
}

// ExecutionFailedError is an engine error enriched for the learner.
type ExecutionFailedError struct {
	Response dto.ExecuteErrorResponse
	Err      error
}

func (e *ExecutionFailedError) Error() string { return e.Response.Error }

func (e *ExecutionFailedError) Unwrap() error { return e.Err }
