package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autoclaude/internal/lock"
)

// writeJSONArtifact marshals v and writes it atomically to
// <specDir>/<name>, matching every other durable write in this module.
func writeJSONArtifact(specDir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode %s: %w", name, err)
	}
	return lock.AtomicWrite(filepath.Join(specDir, name), data, 0o644)
}

// writeJSONArtifactRaw writes already-encoded JSON bytes atomically,
// skipping the marshal step — used when the content came from the agent
// (discovery's opaque project index) rather than a Go struct.
func writeJSONArtifactRaw(specDir, name string, raw []byte) error {
	return lock.AtomicWrite(filepath.Join(specDir, name), raw, 0o644)
}

// ReadImplementationPlan decodes <specDir>/implementation_plan.json into
// plan, for callers outside this package (the autofix build step) that
// need the plan after the pipeline has run.
func ReadImplementationPlan(specDir string, plan *ImplementationPlan) error {
	return readJSONArtifact(specDir, "implementation_plan.json", plan)
}

// readJSONArtifact decodes <specDir>/<name> into v.
func readJSONArtifact(specDir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(specDir, name))
	if err != nil {
		return fmt.Errorf("pipeline: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pipeline: decode %s: %w", name, err)
	}
	return nil
}

// artifactExists reports whether <specDir>/<name> exists and is non-empty.
func artifactExists(specDir, name string) bool {
	info, err := os.Stat(filepath.Join(specDir, name))
	return err == nil && info.Size() > 0
}

// requireArtifacts validates that every file this phase is responsible for
// (per phaseOutputFiles) exists and is non-empty. Phases with structural
// requirements beyond "exists" (spec.md's required sections, JSON schema
// checks) layer additional checks on top in their own ValidateOutputs.
func requireArtifacts(specDir, phaseName string) error {
	for _, name := range phaseOutputFiles[phaseName] {
		if !artifactExists(specDir, name) {
			return fmt.Errorf("pipeline: phase %q: missing output %s", phaseName, name)
		}
	}
	return nil
}

// collectOutputs reads every artifact a phase produced, each truncated at
// ~10KB, keyed by filename — the compaction step's raw input.
func collectOutputs(specDir, phaseName string) map[string][]byte {
	const maxPerFile = 10 * 1024
	out := make(map[string][]byte)
	for _, name := range phaseOutputFiles[phaseName] {
		data, err := os.ReadFile(filepath.Join(specDir, name))
		if err != nil {
			continue
		}
		if len(data) > maxPerFile {
			data = data[:maxPerFile]
		}
		out[name] = data
	}
	return out
}

// requiredSpecSections are the markdown headings spec.md (the artifact, not
// this repo's specification) must contain.
var requiredSpecSections = []string{"Overview", "Architecture", "Implementation"}

func validateSpecSections(specDir string) error {
	data, err := os.ReadFile(filepath.Join(specDir, "spec.md"))
	if err != nil {
		return fmt.Errorf("pipeline: read spec.md: %w", err)
	}
	text := string(data)
	var missing []string
	for _, section := range requiredSpecSections {
		if !strings.Contains(text, "# "+section) && !strings.Contains(text, "## "+section) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: spec.md missing required sections: %s", strings.Join(missing, ", "))
	}
	return nil
}
