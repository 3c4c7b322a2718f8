/*
Package expertflow runs multi-turn conversations between a user and a
persona-bound expert agent.

# Overview

The core is a directed-graph state machine that sequences response
generation, tool-triggered context retrieval, context condensation and
history summarization, with durable per-thread checkpointing and a
non-blocking evaluation side-channel.

A turn traverses a fixed five-node graph:

	respond ──(tool call?)──> retrieve ──> condense ──> respond
	   │
	   └──(no tool)──> connector ──(history > trigger?)──> summarize ──> END

State never mutates in place: each node returns a Delta the executor
merges, stages in the pending-writes ledger and checkpoints per
transition, so an interrupted turn resumes from its last committed step.

# Basic Usage

Build an Engine once at startup and serve turns from it:

	model := llm.NewOpenAICompat(baseURL, apiKey, "llama-3.3-70b-versatile")
	store, _ := checkpoint.NewSQLiteStore("threads.db")

	engine, err := expertflow.NewEngine(expertflow.EngineConfig{
	    Model:     model,
	    Stores:    expertflow.SharedStore(store),
	    Retriever: myRetriever,
	})
	if err != nil {
	    log.Fatal(err)
	}

	state, err := engine.Respond(ctx, expertflow.TurnRequest{
	    ExpertID: "contract-law",
	    Persona:  expertflow.Persona{Name: "Ama", Expertise: "contract law", Style: "precise"},
	    Message:  "Can a verbal agreement be binding?",
	})

# Streaming

RespondStream forwards the response node's model chunks as they arrive;
all other node traffic stays internal:

	emitter := expertflow.NewChannelEmitter(16)
	go engine.RespondStream(ctx, req, emitter)
	for frame := range emitter.Frames() {
	    switch frame.Type {
	    case expertflow.FrameContent:
	        fmt.Print(frame.Content)
	    case expertflow.FrameError:
	        log.Println(frame.Err)
	    }
	}

# Thread Identity

By default turns for one expert accumulate into a single shared thread.
Set TurnRequest.NewThread for an isolated thread with its own history,
or TurnRequest.ThreadID to address a known thread directly. Turns on the
same thread are serialized; different threads run concurrently.

# Subpackages

  - checkpoint: durable state stores (memory, SQLite, Redis)
  - llm: model clients (OpenAI-compatible, Ollama, mock)
  - retrieval: the retrieval tool interface
  - eval: fire-and-forget turn quality evaluation
  - config: settings loading (yaml/json, .env, environment)
  - observability: slog helpers, OTel metrics and tracing
  - registry: generic thread-safe registry
*/
package expertflow
