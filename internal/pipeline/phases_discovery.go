package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autoclaude/internal/agent"
)

// DiscoveryPhase invokes the external project analyzer and stores its
// output verbatim; the pipeline treats project_index.json as opaque and
// never parses it itself (spec.md §3).
type DiscoveryPhase struct{}

func (DiscoveryPhase) Name() string { return PhaseDiscovery }

func (DiscoveryPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase:  PhaseDiscovery,
		Model:  rc.Model,
		Prompt: fmt.Sprintf("Analyze the project at %q and emit a JSON project index (languages, entry points, key directories).", rc.ProjectDir),
	})
	if err != nil {
		return fmt.Errorf("pipeline: discovery: %w", err)
	}

	var probe any
	raw := []byte(resp.Text)
	if json.Unmarshal(raw, &probe) != nil {
		// Analyzer output isn't valid JSON on its own; wrap it so the
		// artifact is still well-formed JSON without reinterpreting it.
		wrapped, mErr := json.Marshal(map[string]string{"raw": resp.Text})
		if mErr != nil {
			return fmt.Errorf("pipeline: discovery: wrap raw output: %w", mErr)
		}
		raw = wrapped
	}
	return writeRawFile(rc.SpecDir, "project_index.json", raw)
}

func (DiscoveryPhase) ValidateOutputs(specDir string) error {
	return requireArtifacts(specDir, PhaseDiscovery)
}

// HistoricalContextPhase queries the optional memory service (Graphiti) for
// relevant past insights. Disabled (no GRAPHITI_ENABLED) is the common case
// and still produces a valid, empty artifact rather than skipping it.
type HistoricalContextPhase struct {
	Enabled bool
}

func (HistoricalContextPhase) Name() string { return PhaseHistoricalContext }

func (p HistoricalContextPhase) Run(ctx context.Context, rc *RunContext) error {
	if !p.Enabled {
		return writeJSONArtifact(rc.SpecDir, "graph_hints.json", GraphHints{
			Enabled:   false,
			Reason:    "historical memory service not configured",
			Hints:     []string{},
			CreatedAt: time.Now().UTC(),
		})
	}

	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase:  PhaseHistoricalContext,
		Model:  rc.Model,
		Prompt: fmt.Sprintf("Query prior-insight memory for a task described as: %q. List relevant past findings as short bullets.", rc.Requirements.TaskDescription),
	})
	if err != nil {
		return writeJSONArtifact(rc.SpecDir, "graph_hints.json", GraphHints{
			Enabled:   true,
			Reason:    "memory query failed: " + err.Error(),
			Hints:     []string{},
			CreatedAt: time.Now().UTC(),
		})
	}
	return writeJSONArtifact(rc.SpecDir, "graph_hints.json", GraphHints{
		Enabled:   true,
		Hints:     splitNonEmptyLines(resp.Text),
		CreatedAt: time.Now().UTC(),
	})
}

func (HistoricalContextPhase) ValidateOutputs(specDir string) error {
	return requireArtifacts(specDir, PhaseHistoricalContext)
}

func writeRawFile(specDir, name string, raw []byte) error {
	return writeJSONArtifactRaw(specDir, name, raw)
}
