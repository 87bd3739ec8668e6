package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/internal/pipeline"
	"ChemResponse-Chain/internal/pipeline/jsonrepair"
)

func TestStageFinishedCountsOutcomes(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.StageFinished(ctx, pipeline.StageOutcome{
		Stage:    pipeline.StageSituationAnalysis,
		Accepted: 1,
		Paths:    []jsonrepair.Path{jsonrepair.PathDirect, jsonrepair.PathStructural},
		Duration: time.Second,
	})
	m.StageFinished(ctx, pipeline.StageOutcome{
		Stage:    pipeline.StageImpactAssessment,
		Fallback: true,
	})

	cases := []struct {
		name string
		got  float64
	}{
		{"accepted", testutil.ToFloat64(m.stageOutcomes.WithLabelValues("situation_analysis", "accepted"))},
		{"fallback", testutil.ToFloat64(m.stageOutcomes.WithLabelValues("impact_assessment", "fallback"))},
		{"structural path", testutil.ToFloat64(m.repairPaths.WithLabelValues("situation_analysis", "structural"))},
	}
	for _, tc := range cases {
		if tc.got != 1 {
			t.Errorf("%s: got %v want 1", tc.name, tc.got)
		}
	}
}

func TestObserveRunAndUsage(t *testing.T) {
	m := New()
	m.ObserveRun("degraded", 3*time.Second)
	m.ObserveRun("degraded", time.Second)
	if got := testutil.ToFloat64(m.runs.WithLabelValues("degraded")); got != 2 {
		t.Fatalf("unexpected degraded runs %v", got)
	}

	m.RegisterUsage(func() llm.UsageSnapshot {
		return llm.UsageSnapshot{Requests: 4, PromptTokens: 1000, CompletionTokens: 500, Cost: 0.25}
	})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		"chemresponse_llm_prompt_tokens_total 1000",
		`chemresponse_runs_total{status="degraded"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	m := New()
	h := m.Instrument("runs", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{}")))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("runs", "POST", "202")); got != 1 {
		t.Fatalf("unexpected request count %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.StageFinished(context.Background(), pipeline.StageOutcome{})
	m.ObserveRun("succeeded", time.Second)
	m.ObserveHTTPRequest("x", "GET", 200, time.Millisecond)
	m.RegisterUsage(nil)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should expose no registry")
	}
}
