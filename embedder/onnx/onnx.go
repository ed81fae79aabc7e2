// Package onnx implements the embedding engine on ONNX Runtime.
//
// Models are loaded lazily on first use. When the primary model fails to
// load, the engine falls back to the configured secondary model and logs
// degraded mode instead of failing the whole subsystem. After a successful
// load, one calibration encode confirms the model's real output
// dimensionality; a divergence corrects the recorded dimension in memory
// so stored vectors are never silently mismatched.
package onnx

import (
	"context"
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/embedder"
)

// maxSeqLen is the token window per input text.
const maxSeqLen = 128

// ModelConfig locates one ONNX model on disk.
type ModelConfig struct {
	// ID names the model (e.g. "all-MiniLM-L6-v2").
	ID string

	// ModelPath is the path to the .onnx file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string
}

// Config configures the engine.
type Config struct {
	// Primary is the model to load first.
	Primary ModelConfig

	// Fallback is loaded when Primary fails. Optional.
	Fallback ModelConfig

	// Dimensions is the expected embedding size. Corrected by calibration
	// if the loaded model disagrees.
	Dimensions int

	// BatchSize bounds texts per inference call. Default: 32.
	BatchSize int

	// SharedLibraryPath points at libonnxruntime. Empty uses the
	// onnxruntime default lookup.
	SharedLibraryPath string
}

// Engine generates embeddings with ONNX Runtime. Model load is one-time
// and mutually exclusive; the first caller blocks the rest until loaded.
type Engine struct {
	cfg Config

	loadMu  sync.Mutex
	loaded  bool
	loadErr error

	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	modelID   string
	dims      int
	degraded  bool
}

// New creates an engine. No model is touched until the first embed call.
func New(cfg Config) (*Engine, error) {
	if cfg.Primary.ModelPath == "" {
		return nil, fmt.Errorf("primary model path is required: %w", core.ErrConfiguration)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	return &Engine{cfg: cfg, dims: cfg.Dimensions}, nil
}

// ensureLoaded performs the lazy, exclusive model load with fallback.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.loaded {
		return e.loadErr
	}
	e.loaded = true

	if e.cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(e.cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			e.loadErr = fmt.Errorf("initialize onnx runtime: %v: %w", err, core.ErrModelLoad)
			return e.loadErr
		}
	}

	if err := e.loadModel(e.cfg.Primary); err != nil {
		log.Printf("[EMBED] Primary model %q failed to load: %v", e.cfg.Primary.ID, err)
		if e.cfg.Fallback.ModelPath == "" {
			e.loadErr = fmt.Errorf("load %q: %v: %w", e.cfg.Primary.ID, err, core.ErrModelLoad)
			return e.loadErr
		}
		if err := e.loadModel(e.cfg.Fallback); err != nil {
			e.loadErr = fmt.Errorf("load fallback %q: %v: %w", e.cfg.Fallback.ID, err, core.ErrModelLoad)
			return e.loadErr
		}
		e.degraded = true
		log.Printf("[EMBED] Running in degraded mode with fallback model %q", e.cfg.Fallback.ID)
	}

	return e.calibrate(ctx)
}

func (e *Engine) loadModel(mc ModelConfig) error {
	tokenizer, err := LoadTokenizer(mc.TokenizerPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(mc.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	e.session = session
	e.tokenizer = tokenizer
	e.modelID = mc.ID
	return nil
}

// calibrate runs one encode and corrects the recorded dimensionality when
// the model's actual output size diverges from the configured one.
func (e *Engine) calibrate(ctx context.Context) error {
	vecs, err := e.run(ctx, []string{"calibration"})
	if err != nil {
		e.loadErr = fmt.Errorf("calibration encode: %v: %w", err, core.ErrModelLoad)
		return e.loadErr
	}
	if got := len(vecs[0]); got != e.dims {
		log.Printf("[EMBED] Model %q produces %d dimensions, configured %d; correcting", e.modelID, got, e.dims)
		e.dims = got
	}
	return nil
}

// Embed converts one text to a vector.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts to vectors, splitting the work into chunks of
// at most the configured batch size to bound peak memory.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	normalized := embedder.NormalizeTexts(texts)

	out := make([][]float32, 0, len(normalized))
	for start := 0; start < len(normalized); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		vecs, err := e.run(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// run performs one inference call over a batch that already fits the
// batch-size bound.
func (e *Engine) run(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := len(texts)
	inputIDs := make([]int64, batch*maxSeqLen)
	attentionMask := make([]int64, batch*maxSeqLen)
	tokenTypeIDs := make([]int64, batch*maxSeqLen)

	for i, text := range texts {
		tokens := e.tokenizer.Tokenize(text)
		if len(tokens) > maxSeqLen-2 {
			tokens = tokens[:maxSeqLen-2]
		}
		base := i * maxSeqLen
		inputIDs[base] = e.tokenizer.CLS()
		attentionMask[base] = 1
		for j, tok := range tokens {
			inputIDs[base+1+j] = tok
			attentionMask[base+1+j] = 1
		}
		sep := base + 1 + len(tokens)
		inputIDs[sep] = e.tokenizer.SEP()
		attentionMask[sep] = 1
	}

	shape := ort.NewShape(int64(batch), int64(maxSeqLen))
	inputTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	return poolOutput(outputTensor.GetData(), outputTensor.GetShape(), attentionMask, batch)
}

// poolOutput reduces model output to one vector per input. A 2-D output is
// already pooled; a 3-D output is mean-pooled over attended tokens.
func poolOutput(data []float32, shape []int64, attentionMask []int64, batch int) ([][]float32, error) {
	switch len(shape) {
	case 2:
		hidden := int(shape[1])
		out := make([][]float32, batch)
		for i := 0; i < batch; i++ {
			vec := make([]float32, hidden)
			copy(vec, data[i*hidden:(i+1)*hidden])
			out[i] = core.NormalizeVector(vec)
		}
		return out, nil

	case 3:
		seqLen := int(shape[1])
		hidden := int(shape[2])
		out := make([][]float32, batch)
		for i := 0; i < batch; i++ {
			vec := make([]float32, hidden)
			var attended float32
			for j := 0; j < seqLen; j++ {
				if attentionMask[i*seqLen+j] == 0 {
					continue
				}
				attended++
				offset := (i*seqLen + j) * hidden
				for k := 0; k < hidden; k++ {
					vec[k] += data[offset+k]
				}
			}
			if attended > 0 {
				for k := range vec {
					vec[k] /= attended
				}
			}
			out[i] = core.NormalizeVector(vec)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
}

// Dimensions returns the post-calibration vector size.
func (e *Engine) Dimensions() int {
	return e.dims
}

// ModelID identifies the loaded model. Before the lazy load it reports the
// primary model.
func (e *Engine) ModelID() string {
	if e.modelID != "" {
		return e.modelID
	}
	return e.cfg.Primary.ID
}

// Degraded reports whether the engine fell back to the secondary model.
func (e *Engine) Degraded() bool {
	return e.degraded
}

// Close releases the ONNX session.
func (e *Engine) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
