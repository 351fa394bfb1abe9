package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest("POST", "/api/classes/1/rules", strings.NewReader(body))
	r.SetPathValue("classID", "1")
	r.Header.Set("Authorization", "Bearer "+signEmail("admin@example.com"))
	return r
}

func TestCreateRuleRejectsOffRosterStudents(t *testing.T) {
	t.Setenv("CLIENT_SECRET", "test-secret")
	t.Setenv("ADMINS", "admin@example.com")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM students`).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := httptest.NewRecorder()
	handleCreateRule(db)(w, newRuleRequest(t, `{"student_a": 1, "student_b": 99, "kind": "adjacent"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "roster")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRuleUpsertsWhenBothOnRoster(t *testing.T) {
	t.Setenv("CLIENT_SECRET", "test-secret")
	t.Setenv("ADMINS", "admin@example.com")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM students`).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("INSERT INTO pair_rules").
		WithArgs(int64(1), 1, 2, "not_adjacent").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	w := httptest.NewRecorder()
	handleCreateRule(db)(w, newRuleRequest(t, `{"student_a": 1, "student_b": 2, "kind": "not_adjacent"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":7`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
