package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shpitdev/vocab-enricher/internal/enrich"
	"github.com/shpitdev/vocab-enricher/internal/pipeline"
	localio "github.com/shpitdev/vocab-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

var recordsEqual = cmp.Comparer(func(a, b record.Record) bool { return a.Equal(b) })

// memStore is an in-memory input adapter and checkpoint store.
type memStore struct {
	mu         sync.Mutex
	input      []record.Record
	inputErr   error
	progress   []record.Record
	loadErr    error
	failAt     int // fail the Nth persist (1-based); 0 never fails
	persists   int
	historyLen []int
}

func (m *memStore) LoadInput(context.Context) ([]record.Record, error) {
	if m.inputErr != nil {
		return nil, m.inputErr
	}
	return m.input, nil
}

func (m *memStore) LoadProgress(context.Context) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return []record.Record{}, m.loadErr
	}
	return clone(m.progress), nil
}

func (m *memStore) Persist(_ context.Context, recs []record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists++
	if m.failAt > 0 && m.persists == m.failAt {
		return errors.New("disk full")
	}
	m.progress = clone(recs)
	m.historyLen = append(m.historyLen, len(recs))
	return nil
}

func (m *memStore) snapshot() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.progress)
}

func clone(in []record.Record) []record.Record {
	out := make([]record.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// fakeEnricher answers with a deterministic enrichment per term, or a scripted reply.
type fakeEnricher struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]func() (string, error)
	delay   func() time.Duration
}

func (f *fakeEnricher) Enrich(ctx context.Context, rec record.Record) (string, error) {
	term := rec.String("term")
	f.mu.Lock()
	f.calls = append(f.calls, term)
	reply := f.replies[term]
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay()):
		case <-ctx.Done():
			return "", enrich.Unreachable("fake", ctx.Err())
		}
	}
	if reply != nil {
		return reply()
	}
	// Echo the record back with new fields, as a well-behaved model would.
	b, _ := rec.MarshalJSON()
	s := strings.TrimSuffix(string(b), "}")
	return fmt.Sprintf(`%s,"term_es":"%s-es","example":"The %s.","example_es":"El %s."}`, s, term, term, term), nil
}

func (f *fakeEnricher) callTerms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func words(terms ...string) []record.Record {
	out := make([]record.Record, len(terms))
	for i, t := range terms {
		out[i] = record.FromStrings([]string{"id", "term", "definition"}, []string{fmt.Sprint(i + 1), t, "def of " + t})
	}
	return out
}

func newController(store *memStore, enr enrich.Enricher, opts pipeline.Options) *pipeline.Controller {
	return &pipeline.Controller{
		Input:      store,
		Store:      store,
		Enricher:   enr,
		Logger:     zap.NewNop(),
		Options:    opts,
		OutputPath: "mem",
	}
}

func fastOpts() pipeline.Options {
	return pipeline.Options{Workers: 1, MaxRetries: 0, RequestTimeout: time.Second}
}

func TestRun_FreshRunEnrichesEveryRecord(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat", "dog", "sun")}
	enr := &fakeEnricher{}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.Summary{OutputPath: "mem", Total: 3, OK: 3}, sum)
	out := store.snapshot()
	require.Len(t, out, 3)
	for i, rec := range out {
		assert.Equal(t, []string{"id", "term", "definition", "term_es", "example", "example_es"}, rec.Keys())
		assert.Equal(t, store.input[i].String("term")+"-es", rec.String("term_es"))
	}
	assert.Equal(t, []int{1, 2, 3}, store.historyLen, "checkpoint is rewritten after every item")
}

func TestRun_RequestFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat", "dog", "sun")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"dog": func() (string, error) { return "", enrich.Declined("fake", 500, []byte("boom"), nil) },
	}}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.OK)
	assert.Equal(t, 1, sum.RequestFailures)

	out := store.snapshot()
	require.Len(t, out, 3)
	assert.True(t, out[1].Equal(store.input[1]), "fallback must equal the input record")
	assert.True(t, out[0].Has("term_es"))
	assert.True(t, out[2].Has("term_es"))
}

func TestRun_ParseFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat", "dog")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"cat": func() (string, error) { return "I cannot help with that.", nil },
	}}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ParseFailures)
	assert.Equal(t, 1, sum.OK)
	assert.True(t, store.snapshot()[0].Equal(store.input[0]))
}

func TestRun_StrictContractRejectsIncompleteResponses(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"cat": func() (string, error) { return `{"term_es":"gato"}`, nil },
	}}
	opts := fastOpts()
	opts.Contract = schema.Contract{Mode: schema.ModeStrict, Required: []string{"term_es", "example"}}

	sum, err := newController(store, enr, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ParseFailures)
	assert.True(t, store.snapshot()[0].Equal(store.input[0]))
}

func TestRun_MergeNeverOverwritesInputFields(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"cat": func() (string, error) {
			return "```json\n{\"id\":\"999\",\"term\":\"CAT\",\"term_es\":\"gato\"}\n```", nil
		},
	}}

	_, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	out := store.snapshot()[0]
	assert.Equal(t, "1", out.String("id"))
	assert.Equal(t, "cat", out.String("term"))
	assert.Equal(t, "gato", out.String("term_es"))
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	input := words("a", "b", "c", "d", "e")
	done0, _ := input[0].With("term_es", []byte(`"a-es"`))
	done1, _ := input[1].With("term_es", []byte(`"b-es"`))
	store := &memStore{input: input, progress: []record.Record{done0, done1}}
	enr := &fakeEnricher{}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Resumed)
	assert.Equal(t, 3, sum.OK)
	assert.Equal(t, []string{"c", "d", "e"}, enr.callTerms())

	out := store.snapshot()
	require.Len(t, out, 5)
	assert.True(t, out[0].Equal(done0))
	assert.True(t, out[1].Equal(done1))
}

func TestRun_ResumptionIsIdempotentForEveryPrefix(t *testing.T) {
	t.Parallel()

	input := words("a", "b", "c", "d")
	full := &memStore{input: input}
	_, err := newController(full, &fakeEnricher{}, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	want := full.snapshot()

	for k := 0; k <= len(input); k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			store := &memStore{input: input, progress: clone(want[:k])}
			enr := &fakeEnricher{}
			_, err := newController(store, enr, fastOpts()).Run(context.Background())
			require.NoError(t, err)
			assert.Len(t, enr.callTerms(), len(input)-k)
			if diff := cmp.Diff(want, store.snapshot(), recordsEqual); diff != "" {
				t.Fatalf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_CompletedCheckpointDoesNothing(t *testing.T) {
	t.Parallel()

	input := words("a", "b")
	store := &memStore{input: input, progress: clone(input)}
	enr := &fakeEnricher{}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, enr.callTerms())
	assert.Zero(t, store.persists)
	assert.Equal(t, 2, sum.Resumed)
	assert.Zero(t, sum.Processed())
}

func TestRun_CheckpointLongerThanInput(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	input := words("a")
	store := &memStore{input: input, progress: words("a", "b", "c")}
	enr := &fakeEnricher{}
	c := newController(store, enr, fastOpts())
	c.Logger = zap.New(core)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, enr.callTerms())
	assert.Zero(t, store.persists, "checkpoint must be left untouched")
	assert.Equal(t, 3, sum.Resumed)
	assert.Equal(t, 1, logs.FilterMessageSnippet("more records than the input").Len())
}

func TestRun_CorruptCheckpointRestarts(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := &memStore{
		input:   words("a", "b"),
		loadErr: &localio.CheckpointCorruptionError{Path: "x", Err: errors.New("unexpected end of json")},
	}
	enr := &fakeEnricher{}
	c := newController(store, enr, fastOpts())
	c.Logger = zap.New(core)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.OK)
	assert.Equal(t, []string{"a", "b"}, enr.callTerms())
	assert.Equal(t, 1, logs.FilterMessageSnippet("checkpoint unreadable").Len())
}

func TestRun_WarnsOnIDMismatch(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	input := words("a", "b")
	stale := record.FromStrings([]string{"id", "term"}, []string{"other", "a"})
	store := &memStore{input: input, progress: []record.Record{stale}}
	c := newController(store, &fakeEnricher{}, fastOpts())
	c.Logger = zap.New(core)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	entries := logs.FilterMessageSnippet("does not match input position").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "other", entries[0].ContextMap()["checkpoint_id"])
}

func TestRun_InputFailureAborts(t *testing.T) {
	t.Parallel()

	store := &memStore{inputErr: &localio.MalformedInputError{Path: "in.json", Err: errors.New("bad")}}
	enr := &fakeEnricher{}

	_, err := newController(store, enr, fastOpts()).Run(context.Background())
	var mie *localio.MalformedInputError
	require.ErrorAs(t, err, &mie)
	assert.Empty(t, enr.callTerms())
	assert.Zero(t, store.persists)
}

func TestRun_CheckpointReadFailureAborts(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("a"), loadErr: errors.New("permission denied")}
	_, err := newController(store, &fakeEnricher{}, fastOpts()).Run(context.Background())
	require.ErrorContains(t, err, "load checkpoint")
}

func TestRun_PersistFailureAborts(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("a", "b", "c"), failAt: 2}
	enr := &fakeEnricher{}

	sum, err := newController(store, enr, fastOpts()).Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, sum.OK)
	assert.Len(t, store.snapshot(), 1, "only the first item was durably written")
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	store := &memStore{input: words("cat")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"cat": func() (string, error) {
			if attempts.Add(1) == 1 {
				return "", enrich.Declined("fake", 503, nil, nil)
			}
			return `{"term_es":"gato"}`, nil
		},
	}}
	opts := fastOpts()
	opts.MaxRetries = 2

	sum, err := newController(store, enr, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OK)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestRun_DoesNotRetryDeclinedRequests(t *testing.T) {
	t.Parallel()

	store := &memStore{input: words("cat")}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"cat": func() (string, error) { return "", enrich.Declined("fake", 401, nil, nil) },
	}}
	opts := fastOpts()
	opts.MaxRetries = 3

	sum, err := newController(store, enr, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RequestFailures)
	assert.Len(t, enr.callTerms(), 1)
}

func TestRun_ConcurrentWorkersKeepInputOrder(t *testing.T) {
	t.Parallel()

	terms := make([]string, 30)
	for i := range terms {
		terms[i] = fmt.Sprintf("w%02d", i)
	}
	input := words(terms...)

	sequential := &memStore{input: input}
	_, err := newController(sequential, &fakeEnricher{}, fastOpts()).Run(context.Background())
	require.NoError(t, err)

	store := &memStore{input: input}
	enr := &fakeEnricher{delay: func() time.Duration {
		return time.Duration(rand.IntN(5)) * time.Millisecond
	}}
	opts := fastOpts()
	opts.Workers = 6

	sum, err := newController(store, enr, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(input), sum.OK)
	if diff := cmp.Diff(sequential.snapshot(), store.snapshot(), recordsEqual); diff != "" {
		t.Fatalf("concurrent output differs from sequential (-want +got):\n%s", diff)
	}
	for i, n := range store.historyLen {
		require.Equal(t, i+1, n, "checkpoint grows by exactly one record per commit")
	}
}

func TestRun_CancellationKeepsCommittedPrefix(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := words("a", "b", "c", "d")
	store := &memStore{input: input}
	enr := &fakeEnricher{replies: map[string]func() (string, error){
		"c": func() (string, error) {
			deadline := time.Now().Add(time.Second)
			for len(store.snapshot()) < 2 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			cancel()
			return "", enrich.Unreachable("fake", context.Canceled)
		},
	}}

	_, err := newController(store, enr, fastOpts()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	partial := store.snapshot()
	require.Len(t, partial, 2)

	// A second run picks up where the first stopped.
	enr2 := &fakeEnricher{}
	sum, err := newController(store, enr2, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Resumed)
	assert.Equal(t, []string{"c", "d"}, enr2.callTerms())
	assert.Len(t, store.snapshot(), 4)
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	store := &memStore{input: []record.Record{}}
	sum, err := newController(store, &fakeEnricher{}, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Equal(t, 1, store.persists)
	assert.NotNil(t, store.progress)
	assert.Empty(t, store.snapshot())
}

func TestRun_EmptyInputOverCorruptCheckpoint(t *testing.T) {
	t.Parallel()

	store := &memStore{
		input:   []record.Record{},
		loadErr: &localio.CheckpointCorruptionError{Path: "x", Err: errors.New("unexpected end of json")},
	}
	sum, err := newController(store, &fakeEnricher{}, fastOpts()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Equal(t, 1, store.persists)
	assert.Empty(t, store.snapshot())
}

func TestRun_EmptyInputWritesEmptyArrayFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "words.json")
	require.NoError(t, os.WriteFile(input, []byte("[]"), 0o644))
	output := filepath.Join(dir, "words_processed.json")
	require.NoError(t, os.WriteFile(output, []byte(`[{"id":"1",`), 0o644))

	store := localio.NewStore(input, output)
	c := &pipeline.Controller{Input: store, Store: store, Enricher: &fakeEnricher{}, Options: fastOpts(), OutputPath: output}
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(got))
}

type unreachableEnricher struct{}

func (unreachableEnricher) Enrich(context.Context, record.Record) (string, error) {
	return "", enrich.Unreachable("openrouter", errors.New("connection refused"))
}

func TestRun_FailedRecordsAreWrittenUnchanged(t *testing.T) {
	t.Parallel()

	const input = `[
	{"id": "1", "term": "niño", "definition": "a young boy", "tags": ["es", "A1"], "meta": {"freq": 12345678901234567890123, "ratio": 1.50, "src": {"page": 3}}},
	{"id": "2", "term": "日本語", "note": "one\u2028two <b>&</b>", "flags": {"ok": true, "skip": null}},
	{"id": "3", "term": "naïve", "definition": "tab\tand \"quotes\"", "n": -0.0, "big": 1e400}
]`
	dir := t.TempDir()
	inPath := filepath.Join(dir, "words.json")
	require.NoError(t, os.WriteFile(inPath, []byte(input), 0o644))
	outPath := localio.OutputPath(inPath)

	store := localio.NewStore(inPath, outPath)
	c := &pipeline.Controller{
		Input:      store,
		Store:      store,
		Enricher:   unreachableEnricher{},
		Logger:     zap.NewNop(),
		Options:    fastOpts(),
		OutputPath: outPath,
	}
	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.RequestFailures)

	inputs, err := record.ParseArray([]byte(input))
	require.NoError(t, err)
	want, err := record.MarshalIndent(inputs, "  ")
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, string(want)+"\n", string(got))
	assert.Contains(t, string(got), "12345678901234567890123")
	assert.Contains(t, string(got), "1.50")
	assert.Contains(t, string(got), "1e400")
	assert.Contains(t, string(got), "niño")

	back, err := record.ParseArray(got)
	require.NoError(t, err)
	if diff := cmp.Diff(inputs, back, recordsEqual); diff != "" {
		t.Fatalf("checkpoint differs from input (-want +got):\n%s", diff)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cat", pipeline.Label(record.FromStrings([]string{"id", "term"}, []string{"1", "cat"})))
	assert.Equal(t, "di", pipeline.Label(record.FromStrings([]string{"term_source"}, []string{"di"})))
	assert.Equal(t, "7", pipeline.Label(record.FromStrings([]string{"id"}, []string{"7"})))
	assert.Equal(t, "unknown", pipeline.Label(record.Record{}))
}
