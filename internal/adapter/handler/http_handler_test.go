package handler

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nmoreno/biblioteca/internal/adapter/storage"
	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/core/service"
	"github.com/nmoreno/biblioteca/internal/port"
)

const testJWTSecret = "test-secret"

type testServer struct {
	router http.Handler
	dir    *storage.StaticDirectory
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := storage.NewStaticDirectory()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	dir.AddPatron(&domain.Patron{
		ID:           "patron-1",
		Username:     "ana",
		Email:        "ana@example.com",
		PasswordHash: string(hash),
		Active:       true,
	})
	dir.AddPatron(&domain.Patron{
		ID:           "patron-off",
		Username:     "idle",
		PasswordHash: string(hash),
		Active:       false,
	})
	dir.AddBook(&domain.Book{ID: "book-1", Title: "Rayuela", Active: true})
	dir.AddBook(&domain.Book{ID: "book-2", Title: "Ficciones", Active: true})

	svc := service.NewLoanService(
		storage.NewMemoryRepository(), dir, dir, storage.NewMemoryGuard(),
		port.SystemClock(), service.Limits{FinePerDay: 1000}, logger,
	)
	h := NewLoanHandler(svc, logger)
	a := NewAuthenticator(dir, testJWTSecret, time.Hour, logger)

	ts := &testServer{router: NewRouter(h, a, testJWTSecret), dir: dir}
	ts.token = ts.login(t, "ana", "secret123")
	return ts
}

type testResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
	Count   *int                `json:"count"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var resp testResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec, resp := ts.do(t, http.MethodPost, "/api/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data loginResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func (ts *testServer) checkout(t *testing.T, bookID string) loanDTO {
	t.Helper()
	due := time.Now().AddDate(0, 0, 14).Format(time.RFC3339)
	rec, resp := ts.do(t, http.MethodPost, "/api/loans", ts.token,
		`{"patronId":"patron-1","bookId":"`+bookID+`","dueAt":"`+due+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var loan loanDTO
	require.NoError(t, json.Unmarshal(resp.Data, &loan))
	return loan
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/login", "", `{"username":"ana","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/login", "", `{"username":"nobody","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/login", "", `{"username":"idle","password":"secret123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/api/loans", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/loans", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	ts := newTestServer(t)

	loan := ts.checkout(t, "book-1")
	assert.NotEmpty(t, loan.ID)
	assert.Equal(t, "patron-1", loan.PatronID)
	assert.Equal(t, string(domain.StatusActive), loan.Status)
	assert.False(t, loan.IsOverdue)

	// Same book again conflicts.
	due := time.Now().AddDate(0, 0, 14).Format(time.RFC3339)
	rec, resp := ts.do(t, http.MethodPost, "/api/loans", ts.token,
		`{"patronId":"patron-1","bookId":"book-1","dueAt":"`+due+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
}

func TestCheckoutValidation(t *testing.T) {
	ts := newTestServer(t)
	due := time.Now().AddDate(0, 0, 14).Format(time.RFC3339)

	rec, _ := ts.do(t, http.MethodPost, "/api/loans", ts.token, `{"bookId":"book-1","dueAt":"`+due+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/loans", ts.token, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/loans", ts.token,
		`{"patronId":"ghost","bookId":"book-1","dueAt":"`+due+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	past := time.Now().AddDate(0, 0, -1).Format(time.RFC3339)
	rec, _ = ts.do(t, http.MethodPost, "/api/loans", ts.token,
		`{"patronId":"patron-1","bookId":"book-1","dueAt":"`+past+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReturnEndpoint(t *testing.T) {
	ts := newTestServer(t)
	loan := ts.checkout(t, "book-1")

	rec, resp := ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/return", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var returned loanDTO
	require.NoError(t, json.Unmarshal(resp.Data, &returned))
	assert.Equal(t, string(domain.StatusReturned), returned.Status)
	assert.NotNil(t, returned.ReturnedAt)
	assert.Zero(t, returned.Fine.Amount)

	rec, _ = ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/return", ts.token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/loans/"+uuid.NewString()+"/return", ts.token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenewEndpoint(t *testing.T) {
	ts := newTestServer(t)
	loan := ts.checkout(t, "book-1")

	rec, resp := ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/renew", ts.token, `{"additionalDays":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var renewed loanDTO
	require.NoError(t, json.Unmarshal(resp.Data, &renewed))
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.True(t, renewed.DueAt.After(loan.DueAt))

	rec, _ = ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/renew", ts.token, `{"additionalDays":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkLostEndpoint(t *testing.T) {
	ts := newTestServer(t)
	loan := ts.checkout(t, "book-1")

	rec, resp := ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/lost", ts.token, `{"notes":"left on a train"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var lost loanDTO
	require.NoError(t, json.Unmarshal(resp.Data, &lost))
	assert.Equal(t, string(domain.StatusLost), lost.Status)
	assert.Equal(t, "left on a train", lost.Notes)
}

func TestListEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.checkout(t, "book-1")
	ts.checkout(t, "book-2")

	rec, resp := ts.do(t, http.MethodGet, "/api/loans", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 2, *resp.Count)

	rec, resp = ts.do(t, http.MethodGet, "/api/patrons/patron-1/loans", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 2, *resp.Count)

	rec, resp = ts.do(t, http.MethodGet, "/api/loans/overdue", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Count)
	assert.Zero(t, *resp.Count)

	rec, _ = ts.do(t, http.MethodGet, "/api/loans?status=bogus", ts.token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	loan := ts.checkout(t, "book-1")
	ts.checkout(t, "book-2")

	rec, _ := ts.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/return", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := ts.do(t, http.MethodGet, "/api/loans/stats", ts.token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats service.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Zero(t, stats.Overdue)
}
