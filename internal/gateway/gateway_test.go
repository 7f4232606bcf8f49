package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/fabricagent/internal/types"
)

func TestGatewayAsk(t *testing.T) {
	gw := New(2)
	gw.SetProcessor(func(run *Run) error {
		run.Result = &Result{ThreadName: run.ThreadName, Response: "answer to " + run.Question.Question}
		return nil
	})
	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Stop()

	res, err := gw.Ask(ctx, &types.InboundQuestion{Source: "test", ThreadName: "t-1", Question: "how many?"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "answer to how many?" {
		t.Errorf("unexpected response %q", res.Response)
	}
	if res.ThreadName != "t-1" {
		t.Errorf("expected thread t-1, got %s", res.ThreadName)
	}
}

func TestGatewayAskGeneratesThreadName(t *testing.T) {
	gw := New(1)
	gw.SetProcessor(func(run *Run) error {
		run.Result = &Result{ThreadName: run.ThreadName}
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	res, err := gw.Ask(context.Background(), &types.InboundQuestion{Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ThreadName.IsGenerated() {
		t.Errorf("expected generated thread name, got %q", res.ThreadName)
	}
}

func TestGatewayAskPropagatesError(t *testing.T) {
	gw := New(1)
	boom := errors.New("agent exploded")
	gw.SetProcessor(func(run *Run) error { return boom })
	gw.Start(context.Background())
	defer gw.Stop()

	_, err := gw.Ask(context.Background(), &types.InboundQuestion{Question: "q"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected processor error, got %v", err)
	}
}

func TestGatewayRejectsEmptyQuestion(t *testing.T) {
	gw := New(1)
	gw.Start(context.Background())
	defer gw.Stop()

	if _, err := gw.Submit(&types.InboundQuestion{Question: "   "}); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestGatewayAskCancelled(t *testing.T) {
	gw := New(1)
	release := make(chan struct{})
	gw.SetProcessor(func(run *Run) error {
		<-release
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := gw.Ask(ctx, &types.InboundQuestion{Question: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGatewayOnComplete(t *testing.T) {
	gw := New(1)
	gw.SetProcessor(func(run *Run) error {
		run.Result = &Result{Response: "ok"}
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	var got atomic.Value
	run, err := gw.Submit(&types.InboundQuestion{Question: "q"}, WithOnComplete(func(r *Result, err error) {
		got.Store(r.Response)
	}))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if got.Load() != "ok" {
		t.Errorf("callback saw %v", got.Load())
	}
	if run.Status != RunStatusComplete || run.Attempts != 1 {
		t.Errorf("unexpected run state: %s attempts=%d", run.Status, run.Attempts)
	}
}
