package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/handler"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
)

func newQueryApp(queries *stubQueries) *fiber.App {
	app := fiber.New()
	app.Use(middleware.SessionID())
	handler.NewQueryHandler(queries, validator.New(), zerolog.Nop()).Register(app.Group("/api/v1/queries"))
	return app
}

func TestSavedQueriesUseSessionOwner(t *testing.T) {
	queries := &stubQueries{saved: dto.SavedQueryResponse{ID: 4, Name: "top customers"}}
	app := newQueryApp(queries)

	req := postJSON("/api/v1/queries/saved", `{"name":"top customers","query":"SELECT * FROM customers"}`)
	req.Header.Set(middleware.HeaderSessionID, "session_owner")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "session_owner", queries.lastOwner.SessionID)
	require.Nil(t, queries.lastOwner.UserID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queries/history?page=2&page_size=5", nil)
	req.Header.Set(middleware.HeaderSessionID, "session_owner")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(decodeEnvelope(t, resp).Data), `"page":2`)
}

func TestSavedQueryConflictAndBadID(t *testing.T) {
	app := newQueryApp(&stubQueries{err: service.ErrSavedQueryConflict})

	resp, err := app.Test(postJSON("/api/v1/queries/saved", `{"name":"dup","query":"SELECT 1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/queries/saved/abc", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	app = newQueryApp(&stubQueries{err: service.ErrSavedQueryNotFound})
	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/queries/saved/9", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
