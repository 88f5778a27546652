package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/oauth2"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote/mocks"
	"homehealth-sync-service/internal/store"
	"homehealth-sync-service/internal/sync"
)

type fakeSession struct {
	token *oauth2.Token
}

func (f *fakeSession) IsSignedIn(context.Context) bool { return f.token != nil }

func (f *fakeSession) SignIn(tok *oauth2.Token) error {
	f.token = tok
	return nil
}

func (f *fakeSession) SignOut() error {
	f.token = nil
	return nil
}

type apiFixture struct {
	router   http.Handler
	session  *fakeSession
	calendar *mocks.MockCalendar
}

func newAPIFixture(t *testing.T, serverCfg config.ServerConfig) *apiFixture {
	ctrl := gomock.NewController(t)
	calendar := mocks.NewMockCalendar(ctrl)
	authMock := mocks.NewMockAuth(ctrl)
	authMock.EXPECT().IsSignedIn(gomock.Any()).Return(false).AnyTimes()

	cfg := &config.Config{
		Remote: config.RemoteConfig{SpreadsheetID: "sheet-1", PatientRange: "Patients!A1:Z", CalendarID: "cal"},
		Sync:   config.SyncConfig{BatchSize: 5, MaxRetries: 5, LookbackDays: 7, LookaheadDays: 7},
	}
	m, err := sync.NewManager(cfg, sync.Deps{
		Store:    store.NewMemoryStore(),
		Sheets:   mocks.NewMockSpreadsheet(ctrl),
		Calendar: calendar,
		Auth:     authMock,
	})
	require.NoError(t, err)

	session := &fakeSession{}
	return &apiFixture{
		router:   NewHandler(m, session, serverCfg).Routes(),
		session:  session,
		calendar: calendar,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{AuthToken: "secret"})
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{AuthToken: "secret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/sync/status", nil, "Authorization", tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncStatus(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{})
	rec := f.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st sync.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, sync.StateIdle, st.State)
	assert.Zero(t, st.PendingCount)
}

func TestPatientLifecycle(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{})

	rec := f.do(t, http.MethodPost, "/api/v1/patients", map[string]string{"fullName": "Mary Smith", "phone": "555-0100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.SyncStatusPending, created.SyncStatus)

	rec = f.do(t, http.MethodGet, "/api/v1/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/queue?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []model.QueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, model.ActionCreate, items[0].Action)
	assert.Equal(t, created.ID, items[0].Payload.EntityID())

	rec = f.do(t, http.MethodDelete, "/api/v1/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutationErrors(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/patients", "{", http.StatusBadRequest},
		{"appointment without patient", http.MethodPost, "/api/v1/appointments", map[string]string{"date": "2026-03-12"}, http.StatusBadRequest},
		{"unlink unknown appointment", http.MethodPost, "/api/v1/appointments/nope/unlink", nil, http.StatusNotFound},
		{"delete unknown day note", http.MethodDelete, "/api/v1/day-notes/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSignInAndOut(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{})

	rec := f.do(t, http.MethodPost, "/api/v1/auth/sign-in", map[string]string{"access_token": "tok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, f.session.token)
	assert.Equal(t, "tok", f.session.token.AccessToken)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/sign-out", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.session.token)
}

func TestPullCalendar(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{})
	f.calendar.EXPECT().ListEvents(gomock.Any(), "cal", gomock.Any(), gomock.Any()).Return(nil, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/sync/calendar", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res sync.ReconcileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Zero(t, res.Upserted)
}

func TestCorsPreflight(t *testing.T) {
	f := newAPIFixture(t, config.ServerConfig{CorsOrigins: []string{"http://localhost:5173"}})

	rec := f.do(t, http.MethodOptions, "/api/v1/patients", nil, "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodOptions, "/api/v1/patients", nil, "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
