package duplicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"
)

// Embedder turns text into a dense vector. Three concrete providers exist
// (remote text-embedding API, an alternative remote provider, and a local
// sentence-transformer) mirroring the teacher's multi-provider AI client
// selection in provider_factory.go — callers depend on this interface, not
// on any one vendor.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// httpEmbedder is the shared shape of the two remote providers: POST a JSON
// body, read back a JSON body containing a float vector. The two remote
// constructors below only differ in endpoint and request/response field
// names.
type httpEmbedder struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	buildBody  func(model, text string) any
	parseResp  func([]byte) ([]float32, error)
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(e.buildBody(e.model, text))
	if err != nil {
		return nil, fmt.Errorf("duplicate: %s: encode request: %w", e.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("duplicate: %s: build request: %w", e.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duplicate: %s: request failed: %w", e.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duplicate: %s: read response: %w", e.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duplicate: %s: status %d: %s", e.name, resp.StatusCode, string(data))
	}
	return e.parseResp(data)
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder returns an Embedder backed by OpenAI's embeddings
// endpoint.
func NewOpenAIEmbedder(apiKey, model string) Embedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &httpEmbedder{
		name:       "openai",
		endpoint:   "https://api.openai.com/v1/embeddings",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		buildBody: func(model, text string) any {
			return map[string]string{"model": model, "input": text}
		},
		parseResp: func(data []byte) ([]float32, error) {
			var r openAIEmbeddingResponse
			if err := json.Unmarshal(data, &r); err != nil {
				return nil, fmt.Errorf("duplicate: openai: decode response: %w", err)
			}
			if len(r.Data) == 0 {
				return nil, fmt.Errorf("duplicate: openai: empty embedding data")
			}
			return r.Data[0].Embedding, nil
		},
	}
}

type voyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewVoyageEmbedder returns an Embedder backed by Voyage AI's embeddings
// endpoint, the alternative remote provider.
func NewVoyageEmbedder(apiKey, model string) Embedder {
	if model == "" {
		model = "voyage-3"
	}
	return &httpEmbedder{
		name:       "voyage",
		endpoint:   "https://api.voyageai.com/v1/embeddings",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		buildBody: func(model, text string) any {
			return map[string]any{"model": model, "input": []string{text}}
		},
		parseResp: func(data []byte) ([]float32, error) {
			var r voyageEmbeddingResponse
			if err := json.Unmarshal(data, &r); err != nil {
				return nil, fmt.Errorf("duplicate: voyage: decode response: %w", err)
			}
			if len(r.Data) == 0 {
				return nil, fmt.Errorf("duplicate: voyage: empty embedding data")
			}
			return r.Data[0].Embedding, nil
		},
	}
}

// localEmbedder shells out to a local sentence-transformer binary, the same
// exec.Command + stdin/stdout JSON envelope shape agent.CLIClient uses for
// the build agent, so local embeddings need no network access.
type localEmbedder struct {
	binPath string
}

// NewLocalEmbedder returns an Embedder that runs binPath as a subprocess,
// feeding it text on stdin and reading a JSON float array from stdout.
func NewLocalEmbedder(binPath string) (Embedder, error) {
	if _, err := exec.LookPath(binPath); err != nil {
		if _, statErr := exec.LookPath("./" + binPath); statErr != nil {
			return nil, fmt.Errorf("duplicate: local embedder binary %q not found: %w", binPath, err)
		}
	}
	return &localEmbedder{binPath: binPath}, nil
}

func (e *localEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, e.binPath)
	cmd.Stdin = bytes.NewReader([]byte(text))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("duplicate: local embedder: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(out, &vec); err != nil {
		return nil, fmt.Errorf("duplicate: local embedder: decode output: %w", err)
	}
	return vec, nil
}
