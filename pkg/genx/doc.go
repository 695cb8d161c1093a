// Package genx provides a streaming framework for LLM completions.
//
// # Core Types
//
// MessageChunk is the fundamental unit of data in a Stream:
//   - Role: The producer of this message (user, model, or tool)
//   - Name: The name of the producer (e.g., "alice", "assistant")
//   - Part: The content payload (Text or Blob)
//   - Ctrl: Stream control signals (optional, for routing and state)
//
// Stream is the primary data flow abstraction:
//
//	type Stream interface {
//	    Next() (*MessageChunk, error)
//	    Close() error
//	    CloseWithError(error) error
//	}
//
// Generator turns a ModelContext into a Stream; OpenAIGenerator and
// GeminiGenerator are the two concrete implementations. FuncTool forces a
// Generator's output to validate against a JSON schema, the mechanism
// pkg/llm's Completion gateway uses for schema-constrained calls.
package genx
