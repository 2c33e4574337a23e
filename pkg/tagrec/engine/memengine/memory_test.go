package memengine

import (
	"context"
	"errors"
	"testing"

	"github.com/cognicore/tagrec/pkg/tagrec/engine"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/enginetest"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Engine {
		return New(nil)
	})
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	eng := New(nil)
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := eng.AddDocument(ctx, enginetest.Docs[0]); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Errorf("AddDocument after Close: %v", err)
	}
	if err := eng.Commit(ctx); !errors.Is(err, internalerr.ErrCommit) {
		t.Errorf("Commit after Close: %v", err)
	}
	if _, err := eng.OpenReader(ctx); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Errorf("OpenReader after Close: %v", err)
	}
}

func TestTermVectorIsACopy(t *testing.T) {
	ctx := context.Background()
	eng := New(nil)
	defer eng.Close()

	if err := eng.AddDocument(ctx, enginetest.Docs[0]); err != nil {
		t.Fatal(err)
	}
	if err := eng.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	r, _ := eng.OpenReader(ctx)
	ref, err := r.FindExactMatch(ctx, engine.FieldID, "1")
	if err != nil {
		t.Fatalf("FindExactMatch: %v", err)
	}

	tv, _ := r.TermVector(ctx, ref, engine.FieldTitle)
	tv["java"] = 100
	again, _ := r.TermVector(ctx, ref, engine.FieldTitle)
	if again["java"] != 1 {
		t.Errorf("term vector mutated through returned map: %v", again)
	}
}
