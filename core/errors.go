package core

import "errors"

// Error taxonomy. Components wrap these sentinels with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is.
var (
	// ErrConfiguration marks invalid or missing settings. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrModelLoad marks an embedding or reranker model that failed to
	// load. Recoverable: the engine falls back to the secondary model and
	// logs degraded mode. Surfaced only when the fallback fails too.
	ErrModelLoad = errors.New("model load error")

	// ErrStorage marks a persistent store failure that survived one retry.
	// Never swallowed: a lost message breaks segmentation continuity.
	ErrStorage = errors.New("storage error")

	// ErrVectorIndex marks a missing or corrupt vector index. The affected
	// channel degrades to keyword-only search; the process keeps running.
	ErrVectorIndex = errors.New("vector index error")

	// ErrSearchTimeout marks a search leg that ran out of time. Absorbed
	// when another leg produced partial results.
	ErrSearchTimeout = errors.New("search timeout")
)
