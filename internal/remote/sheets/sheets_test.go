package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"homehealth-sync-service/internal/auth"
	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/remote"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&remote.HTTPClient{
		BaseURL: srv.URL,
		Auth:    auth.Static("tok"),
		Client:  srv.Client(),
		Timeout: 5 * time.Second,
	})
}

func TestReadRange(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Patients!A1:Z", r.URL.Path)
		_, _ = io.WriteString(w, `{"range":"Patients!A1:Z","values":[["id","fullName"],["p1","Mary"],["p2"]]}`)
	})

	rows, err := c.ReadRange(context.Background(), "sheet-1", "Patients!A1:Z")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "fullName"}, {"p1", "Mary"}, {"p2"}}, rows)
}

func TestReadRangeEmptySheet(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"range":"Patients!A1:Z"}`)
	})
	rows, err := c.ReadRange(context.Background(), "sheet-1", "Patients!A1:Z")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadRangeSchemaMismatch(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"values not array": `{"values":"nope"}`,
		"row not array":    `{"values":[["id"],"p1"]}`,
		"not json":         `<html>`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := c.ReadRange(context.Background(), "s", "r")
			require.Error(t, err)
			assert.True(t, remote.IsSchemaMismatch(err), err.Error())
		})
	}
}

func TestHTTPErrorsAreClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		kind   remote.ErrorKind
	}{
		{http.StatusUnauthorized, remote.KindAuthUnavailable},
		{http.StatusNotFound, remote.KindNotFound},
		{http.StatusTooManyRequests, remote.KindTransient},
		{http.StatusBadGateway, remote.KindTransient},
		{http.StatusBadRequest, remote.KindPermanent},
	}
	for _, tt := range tests {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
		})
		err := c.AppendRow(context.Background(), "s", "r", []string{"x"})
		require.Error(t, err)
		assert.Equal(t, tt.kind, remote.KindOf(err))
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestSignedOutIsAuthUnavailable(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	signedOut, err := auth.New(config.AuthConfig{})
	require.NoError(t, err)
	c := New(&remote.HTTPClient{BaseURL: srv.URL, Auth: signedOut})

	_, err = c.ReadRange(context.Background(), "s", "r")
	assert.True(t, remote.IsAuthUnavailable(err))
	assert.False(t, called)
}

func TestWriteRangeAndAppend(t *testing.T) {
	t.Parallel()

	var writes []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		writes = append(writes, r.Method+" "+r.URL.Path+" "+r.URL.Query().Get("valueInputOption"))
		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "p1", gjson.GetBytes(body, "values.0.0").String())
			_, _ = io.WriteString(w, `{"updatedRange":"Patients!A2"}`)
		case http.MethodPost:
			assert.Equal(t, "p2", gjson.GetBytes(body, "values.0.0").String())
			_, _ = io.WriteString(w, `{"updates":{"updatedRows":1}}`)
		}
	})

	require.NoError(t, c.WriteRange(context.Background(), "s", "Patients!A2", [][]string{{"p1"}}))
	require.NoError(t, c.AppendRow(context.Background(), "s", "Patients!A1:Z", []string{"p2"}))
	assert.Equal(t, []string{
		"PUT /v4/spreadsheets/s/values/Patients!A2 RAW",
		"POST /v4/spreadsheets/s/values/Patients!A1:Z:append RAW",
	}, writes)
}

func TestBatchDeleteRows(t *testing.T) {
	t.Parallel()

	var batch []byte
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"sheets":[{"properties":{"sheetId":0,"title":"Other"}},{"properties":{"sheetId":42,"title":"Patients"}}]}`)
		case http.MethodPost:
			assert.Equal(t, "/v4/spreadsheets/s:batchUpdate", r.URL.Path)
			batch, _ = io.ReadAll(r.Body)
			_, _ = io.WriteString(w, `{}`)
		}
	})

	require.NoError(t, c.BatchDeleteRows(context.Background(), "s", "Patients", []int{2, 7}))

	var decoded struct {
		Requests []struct {
			DeleteDimension struct {
				Range struct {
					SheetID    int `json:"sheetId"`
					StartIndex int `json:"startIndex"`
					EndIndex   int `json:"endIndex"`
				} `json:"range"`
			} `json:"deleteDimension"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(batch, &decoded))
	require.Len(t, decoded.Requests, 2)
	assert.Equal(t, 42, decoded.Requests[0].DeleteDimension.Range.SheetID)
	assert.Equal(t, 7, decoded.Requests[0].DeleteDimension.Range.StartIndex)
	assert.Equal(t, 2, decoded.Requests[1].DeleteDimension.Range.StartIndex)
	assert.Equal(t, 3, decoded.Requests[1].DeleteDimension.Range.EndIndex)

	err := c.BatchDeleteRows(context.Background(), "s", "Missing", []int{1})
	assert.True(t, remote.IsNotFound(err))
}
