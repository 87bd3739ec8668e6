package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/knowledge"
	"ChemResponse-Chain/internal/pipeline"
)

func sampleDocuments() Documents {
	state := pipeline.NewState("某化工厂储罐泄漏")
	state.StageIndex = 3
	state.Accumulated = map[string]any{
		"basic_info":        map[string]any{"time": "08:00"},
		"accident_info":     map[string]any{"chemical": "氯气"},
		"impact_assessment": map[string]any{"emergency_level": "II级"},
	}
	return Documents{
		Plan:  pipeline.BuildReport(state),
		Debug: pipeline.DebugDocument([]pipeline.State{state}),
	}
}

func TestFileSinkWritesBothDocuments(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	location, err := sink.Save(context.Background(), "run-1", sampleDocuments())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1"), location)

	plan, err := os.ReadFile(filepath.Join(location, PlanFile))
	require.NoError(t, err)
	assert.Contains(t, string(plan), "II级", "non-ASCII text must not be escaped")
	assert.Contains(t, string(plan), "\n  \"", "two-space indentation")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(plan, &decoded))
	assert.Contains(t, decoded, "situation_analysis")
	assert.Contains(t, decoded, "impact_assessment")
	assert.NotContains(t, decoded, "response_plan")

	debug, err := os.ReadFile(filepath.Join(location, DebugFile))
	require.NoError(t, err)
	assert.Contains(t, string(debug), "phase_0")

	entries, err := os.ReadDir(location)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileSinkWritesReferencesWhenMatched(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	docs := sampleDocuments()
	docs.References = []knowledge.Entry{{Name: "氯气", CAS: "7782-50-5", Hazards: []string{"剧毒"}}}
	location, err := sink.Save(context.Background(), "run-refs", docs)
	require.NoError(t, err)

	refs, err := os.ReadFile(filepath.Join(location, ReferencesFile))
	require.NoError(t, err)
	assert.Contains(t, string(refs), "7782-50-5")

	entries, err := os.ReadDir(location)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFileSinkRejectsUnsafeRunID(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", ".", "a/b", `a\b`, " x"} {
		_, err := sink.Save(context.Background(), id, sampleDocuments())
		assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err), "id %q", id)
	}
}

func TestNewS3SinkValidatesConfig(t *testing.T) {
	_, err := NewS3Sink(S3Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = NewS3Sink(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestS3SinkUploadsObjects(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			puts[r.URL.Path] = string(body)
			mu.Unlock()
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	sink, err := NewS3Sink(S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "plans",
		Prefix:    "/chem/",
	})
	require.NoError(t, err)

	location, err := sink.Save(context.Background(), "run-9", sampleDocuments())
	require.NoError(t, err)
	assert.Equal(t, "s3://plans/chem/run-9", location)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, puts, "/plans/chem/run-9/"+PlanFile)
	assert.Contains(t, puts, "/plans/chem/run-9/"+DebugFile)
	assert.Contains(t, puts["/plans/chem/run-9/"+PlanFile], "氯气")
}

func TestDiscardSink(t *testing.T) {
	location, err := Discard{}.Save(context.Background(), "x", Documents{})
	assert.NoError(t, err)
	assert.Empty(t, location)
}
