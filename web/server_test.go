package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tracksync/config"
	"tracksync/reconcile"
	"tracksync/storage"
	"tracksync/syncer"
	"tracksync/worklog"
)

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "tracksync_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport(id string) syncer.Report {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	src := worklog.SourceEntry{ID: 7, OwnerID: 11, Description: "Review #42", Start: start, End: start.Add(90 * time.Minute)}
	startedAt := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	return syncer.Report{
		RunID:      id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Second),
		From:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Owners: []syncer.OwnerRun{
			{User: config.User{TogglUserID: 11, RedmineUsername: "alice"}, Outcomes: []reconcile.Outcome{
				reconcile.Success{
					OwnerID:  11,
					Source:   src,
					Proposed: worklog.Payload{IssueID: 42, ProjectID: 3, Hours: decimal.RequireFromString("1.5"), Comment: "Review #42 [7]", SpentOn: "2024-03-04"},
					Action:   reconcile.ActionCreate,
				},
				reconcile.Failure{OwnerID: 11, Source: &src, Message: "<no matching issue>", Date: src.Start},
			}},
		},
	}
}

func seededStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store := openTestStore(t)
	if err := store.SaveRun(testReport("run-1")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	return store
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestServer_IndexRedirectsToRuns(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after redirect, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `href="/runs/run-1"`) {
		t.Fatalf("expected runs list with link to run-1, got %s", body)
	}
	if strings.Contains(body, "Sync now") {
		t.Fatalf("trigger button must be hidden without a sync func")
	}
}

func TestServer_RunPageEscapesMessages(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/runs/run-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Review #42 [7]") {
		t.Fatalf("expected tagged comment in run page")
	}
	if !strings.Contains(body, "&lt;no matching issue&gt;") {
		t.Fatalf("expected escaped failure message, got %s", body)
	}
	if !strings.Contains(body, "1 failure(s)") {
		t.Fatalf("expected failure count in run page")
	}
}

func TestServer_UnknownRunIsNotFound(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	for _, path := range []string{"/runs/missing", "/api/runs/missing", "/runs/missing/export"} {
		resp, _ := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestServer_APIRuns(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var runs []storage.Run
	if err := json.Unmarshal([]byte(body), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Counts.Created != 1 || runs[0].Counts.Failed != 1 {
		t.Fatalf("unexpected runs %+v", runs)
	}

	resp, _ = get(t, ts.URL+"/api/runs?limit=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", resp.StatusCode)
	}
}

func TestServer_APIRunIncludesRecords(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	_, body := get(t, ts.URL+"/api/runs/run-1")
	var payload runResponse
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if payload.Run.ID != "run-1" || len(payload.Records) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Records[0].Hours != "1.5" {
		t.Fatalf("expected hours 1.5, got %q", payload.Records[0].Hours)
	}
}

func TestServer_ExportCSV(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(seededStore(t), nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/runs/run-1/export?format=csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "tracksync-run-1.csv") {
		t.Fatalf("unexpected content disposition %q", resp.Header.Get("Content-Disposition"))
	}
	if !strings.HasPrefix(body, "User,TogglUserID,Status") {
		t.Fatalf("expected csv header, got %q", body)
	}

	resp, _ = get(t, ts.URL+"/runs/run-1/export?format=pdf")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported format, got %d", resp.StatusCode)
	}
}

func TestServer_SyncTriggerSavesRun(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	trigger := func(context.Context) (syncer.Report, error) {
		return testReport("run-2"), nil
	}
	ts := httptest.NewServer(NewServer(store, trigger))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	_, found, err := store.GetRun("run-2")
	if err != nil || !found {
		t.Fatalf("expected stored run: found=%v err=%v", found, err)
	}
}

func TestServer_SyncTriggerDisabled(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(openTestStore(t), nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_SyncTriggerRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	trigger := func(context.Context) (syncer.Report, error) {
		close(started)
		<-release
		return syncer.Report{}, errors.New("toggl unavailable")
	}
	ts := httptest.NewServer(NewServer(openTestStore(t), trigger))
	defer ts.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstStatus int
	go func() {
		defer wg.Done()
		resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
		if err != nil {
			return
		}
		resp.Body.Close()
		firstStatus = resp.StatusCode
	}()

	<-started
	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	resp.Body.Close()
	close(release)
	wg.Wait()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent run, got %d", resp.StatusCode)
	}
	if firstStatus != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed run, got %d", firstStatus)
	}
}
