package consumer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/vocab-enricher/pkg/mockllm"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/core"
	localio "github.com/shpitdev/vocab-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/vocab-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/vocab-enricher/pkg/record"
)

func TestPublicPackagesCompile(t *testing.T) {
	t.Parallel()

	srv := mockllm.New()
	if srv.Handler() == nil {
		t.Fatalf("handler must not be nil")
	}
	if got := redact.Secrets("Bearer abc"); got != "Bearer <redacted>" {
		t.Fatalf("redact: %q", got)
	}

	recs, err := localio.ReadRecordsCSV(strings.NewReader("id,term\n1,cat\n2,dog\n"))
	if err != nil {
		t.Fatalf("ReadRecordsCSV failed: %v", err)
	}

	upper := core.ProcessFunc[record.Record, record.Record](func(_ context.Context, in record.Record) (record.Record, error) {
		extra := record.FromStrings([]string{"term_upper"}, []string{strings.ToUpper(in.String("term"))})
		return record.Merge(in, extra), nil
	})
	var out []record.Record
	err = worker.ProcessInOrder(context.Background(), recs, upper.Process,
		func(_ int, res worker.Result[record.Record, record.Record]) error {
			out = append(out, res.Output)
			return res.Err
		}, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("ProcessInOrder failed: %v", err)
	}

	contract := schema.Contract{Mode: schema.ModeStrict, Required: []string{"term_upper"}}
	for _, r := range out {
		if missing := contract.Missing(r); len(missing) != 0 {
			t.Fatalf("missing %v in %v", missing, r.Keys())
		}
	}

	store := localio.NewStore("", filepath.Join(t.TempDir(), "out.json"))
	if err := store.Persist(context.Background(), out); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	back, err := store.LoadProgress(context.Background())
	if err != nil || len(back) != 2 || back[1].String("term_upper") != "DOG" {
		t.Fatalf("LoadProgress = %v, %v", back, err)
	}
}
