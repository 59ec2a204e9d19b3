// Command streamdemo wires an in-memory bus backend to a RunManager and
// runs a single toy agent callable to completion, printing every event it
// emits. It exists to exercise the wiring end to end, the way the
// teacher's cmd/demo exercises a minimal agent runtime end to end.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dockrion/dockrion/bus"
	"github.com/dockrion/dockrion/bus/memory"
	"github.com/dockrion/dockrion/event"
	"github.com/dockrion/dockrion/run"
	"github.com/dockrion/dockrion/run/executor"
	"github.com/dockrion/dockrion/run/executor/goroutine"
	"github.com/dockrion/dockrion/run/inmem"
	"github.com/dockrion/dockrion/streamctx"
)

func main() {
	ctx := context.Background()

	backend := memory.New(memory.Options{MaxEventsPerRun: 500})
	defer backend.Close()

	mgr, err := run.NewManager(run.ManagerOptions{
		Store:             inmem.New(),
		Bus:               bus.New(backend),
		Executor:          goroutine.New(),
		HeartbeatInterval: 2 * time.Second,
	})
	if err != nil {
		panic(err)
	}

	const runID = "demo-run-1"
	if _, err := mgr.CreateRun(ctx, runID, event.Chat()); err != nil {
		panic(err)
	}

	sub, err := bus.New(backend).Subscribe(ctx, runID, 0)
	if err != nil {
		panic(err)
	}
	defer sub.Close()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub.Events() {
			fmt.Printf("[seq=%d] %s\n", ev.Sequence, ev.Type)
			if ev.Type.IsTerminal() {
				return
			}
		}
	}()

	if err := mgr.Start(ctx, runID, executor.StartRequest{
		AgentName: "toy-agent",
		Framework: "streamdemo",
		Callable:  toyAgent,
	}); err != nil {
		panic(err)
	}

	for {
		rec, err := mgr.GetStatus(ctx, runID)
		if err != nil {
			panic(err)
		}
		if rec.Status.IsTerminal() {
			<-printed
			fmt.Println("final status:", rec.Status)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// toyAgent simulates a streaming agent: it emits one progress update and
// two tokens via the ambient stream context before returning its result.
// The run uses the chat filter, which drops the progress update, so only
// the tokens reach subscribers.
func toyAgent(ctx context.Context) (any, error) {
	sc, ok := streamctx.From(ctx)
	if !ok {
		return nil, fmt.Errorf("streamdemo: no stream context in ctx")
	}

	_ = sc.EmitProgress(ctx, "thinking", 0.3, "gathering context")
	time.Sleep(50 * time.Millisecond)
	_ = sc.EmitToken(ctx, "hello ", "")
	_ = sc.EmitToken(ctx, "from dockrion", "stop")
	time.Sleep(50 * time.Millisecond)

	return map[string]any{"reply": "hello from dockrion"}, nil
}
