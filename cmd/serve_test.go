package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/store"
)

func newServerFixture(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	run, err := st.CreateRun(ctx, "input.csv", "out.csv")
	require.NoError(t, err)
	funding := 1_000_000.0
	require.NoError(t, st.SaveSnapshot(ctx, run.ID, []model.Record{
		{Name: "Acme", City: "Berlin", HomepageURL: "https://acme.example", FoundedYear: 2012, FundingTotal: &funding, URLValidity: model.URLValid},
		{Name: "Beta", City: "Berlin", URLValidity: model.URLUnchecked},
	}))
	phase, err := st.CreatePhase(ctx, run.ID, "clean")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, phase.ID, &model.PhaseResult{Name: "clean", Status: model.PhaseStatusComplete}))

	srv := httptest.NewServer(newServeRouter(st, 10, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, run.ID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestServeHealthz(t *testing.T) {
	srv, _ := newServerFixture(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServeListRuns(t *testing.T) {
	srv, runID := newServerFixture(t)

	var body struct {
		Runs []model.Run `json:"runs"`
	}
	code := getJSON(t, srv.URL+"/api/runs", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, runID, body.Runs[0].ID)

	var errBody map[string]string
	code = getJSON(t, srv.URL+"/api/runs?limit=bogus", &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServeGetRun(t *testing.T) {
	srv, runID := newServerFixture(t)

	var body struct {
		Run    model.Run        `json:"run"`
		Phases []model.RunPhase `json:"phases"`
	}
	code := getJSON(t, srv.URL+"/api/runs/"+runID, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, body.Run.ID)
	require.Len(t, body.Phases, 1)
	assert.Equal(t, "clean", body.Phases[0].Name)

	var errBody map[string]string
	code = getJSON(t, srv.URL+"/api/runs/no-such-run", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "run not found", errBody["error"])
}

func TestServeReports(t *testing.T) {
	srv, runID := newServerFixture(t)

	var rep struct {
		RunID  string `json:"run_id"`
		Cities []struct {
			City      string `json:"city"`
			Companies int    `json:"companies"`
		} `json:"cities"`
		Verified struct {
			Valid     int `json:"valid"`
			Unchecked int `json:"unchecked"`
		} `json:"verified_urls"`
	}
	code := getJSON(t, srv.URL+"/api/reports", &rep)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, rep.RunID)
	require.Len(t, rep.Cities, 1)
	assert.Equal(t, "Berlin", rep.Cities[0].City)
	assert.Equal(t, 2, rep.Cities[0].Companies)
	assert.Equal(t, 1, rep.Verified.Valid)
	assert.Equal(t, 1, rep.Verified.Unchecked)

	code = getJSON(t, srv.URL+"/api/reports?run="+runID, &rep)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, rep.RunID)
}

func TestServeCORSHeaders(t *testing.T) {
	srv, _ := newServerFixture(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
