package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func (r *recorder) last() recordedRequest {
	all := r.all()
	return all[len(all)-1]
}

func fakeServer(t *testing.T, responses map[string]interface{}) (*httptest.Server, *recorder) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		rec.mu.Unlock()

		resp, ok := responses[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "provider not found"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	color.NoColor = true
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"gpuctl", "--server", srv.URL, "--api-key", "secret"}, args...))
	return out.String(), err
}

func TestJobsCommand(t *testing.T) {
	srv, requests := fakeServer(t, map[string]interface{}{
		"GET /api/v1/ops/jobs": map[string]interface{}{
			"jobs": []map[string]interface{}{{
				"id": 12, "provider": "lambda", "trigger": "schedule", "status": "timeout",
				"started_at": "2026-03-10T15:00:00Z", "duration_ms": 1500, "error_message": "source timed out",
			}},
		},
	})

	out, err := run(t, srv, "jobs", "--provider", "lambda", "-n", "5")
	require.NoError(t, err)

	assert.Contains(t, out, "lambda")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "source timed out")

	require.Len(t, requests.all(), 1)
	assert.Equal(t, "Bearer secret", requests.last().auth)
	assert.Equal(t, "limit=5&provider=lambda", requests.last().query)
}

func TestAnomaliesCommand(t *testing.T) {
	srv, _ := fakeServer(t, map[string]interface{}{
		"GET /api/v1/ops/anomalies": map[string]interface{}{
			"anomalies": []map[string]interface{}{{
				"provider": "lambda", "gpu": "h100-80gb", "instance_type": "gpu_1x_h100", "channel": "on_demand",
				"old_price_per_gpu_hour": 2.0, "new_price_per_gpu_hour": 4.1, "change_percent": "105",
				"detected_at": "2026-03-10T15:00:00Z",
			}},
		},
	})

	out, err := run(t, srv, "anomalies")
	require.NoError(t, err)
	assert.Contains(t, out, "105.00%")
	assert.Contains(t, out, "4.1000")
}

func TestTriggerCommand(t *testing.T) {
	srv, requests := fakeServer(t, map[string]interface{}{
		"POST /api/v1/ops/providers/lambda/trigger": map[string]interface{}{
			"provider": "lambda", "task_id": "scrape:lambda:manual:29546580", "enqueued": true,
		},
	})

	out, err := run(t, srv, "trigger", "lambda")
	require.NoError(t, err)
	assert.Contains(t, out, "queued scrape:lambda:manual:29546580")
	assert.Equal(t, http.MethodPost, requests.last().method)

	_, err = run(t, srv, "trigger", "ghost")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "provider not found", apiErr.Message)

	_, err = run(t, srv, "trigger")
	assert.Error(t, err)
}

func TestReconcileQueuesTriggersRollup(t *testing.T) {
	srv, requests := fakeServer(t, map[string]interface{}{
		"POST /api/v1/ops/reconcile": map[string]interface{}{"added": 2, "updated": 0, "removed": 1, "enqueued": 2, "failed": []string{"vast"}},
		"GET /api/v1/ops/queues": map[string]interface{}{
			"queues": []map[string]interface{}{{"queue": "scrape", "waiting": 4, "failed": 1}},
		},
		"GET /api/v1/ops/triggers": map[string]interface{}{
			"triggers": []map[string]interface{}{{"provider": "lambda", "interval_seconds": 3600, "offset_seconds": 754}},
		},
		"POST /api/v1/ops/rollup": map[string]interface{}{"day": "2026-03-09", "task_id": "rollup:2026-03-09:1", "enqueued": true},
	})

	out, err := run(t, srv, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "added=2 updated=0 removed=1 enqueued=2")
	assert.Contains(t, out, "vast")

	out, err = run(t, srv, "queues")
	require.NoError(t, err)
	assert.Contains(t, out, "scrape")

	out, err = run(t, srv, "triggers")
	require.NoError(t, err)
	assert.Contains(t, out, "1h0m0s")
	assert.Contains(t, out, "12m34s")

	out, err = run(t, srv, "rollup", "--day", "2026-03-09")
	require.NoError(t, err)
	assert.Contains(t, out, "rollup of 2026-03-09 queued")
	assert.JSONEq(t, `{"day":"2026-03-09"}`, requests.last().body)
}
