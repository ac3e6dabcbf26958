package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

var (
	simpleKeywords  = []string{"typo", "rename", "comment", "readme", "small fix", "tweak", "minor", "bump version"}
	complexKeywords = []string{"migrate", "migration", "rearchitect", "distributed", "cross-service", "breaking change", "schema change", "rewrite"}

	// integrationPattern matches mentions of third-party services/APIs the
	// task would need to wire up, a coarse proxy for "external integration".
	integrationPattern = regexp.MustCompile(`(?i)\b(stripe|twilio|kafka|rabbitmq|redis|s3|dynamodb|bigquery|salesforce|sendgrid|okta|auth0|datadog|webhook api|graphql api|rest api integration)\b`)

	// infraPattern matches infrastructure-change signals: Terraform/Helm/CI
	// config, Dockerfiles, Kubernetes manifests.
	infraPattern = regexp.MustCompile(`(?i)\b(terraform|helm chart|dockerfile|kubernetes manifest|k8s yaml|ci\.ya?ml|github actions workflow|\.tf\b)\b`)

	servicePattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9-]*-service|[a-z][a-z0-9-]*-api)\b`)
)

func countMatches(text string, keywords []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range keywords {
		n += strings.Count(lower, kw)
	}
	return n
}

// HeuristicAssess classifies a task's complexity without calling the agent,
// used both as the default path's fallback and as a standalone option for
// offline/dry-run invocations. Thresholds match spec.md §4.5.1 exactly.
func HeuristicAssess(req Requirements, estimatedFiles int) ComplexityAssessment {
	text := req.TaskDescription + " " + req.Context
	simpleHits := countMatches(text, simpleKeywords)
	complexHits := countMatches(text, complexKeywords)

	integrations := dedupeMatches(integrationPattern.FindAllString(text, -1))
	infra := infraPattern.MatchString(text)
	services := dedupeMatches(servicePattern.FindAllString(text, -1))
	serviceCount := len(services)
	if serviceCount == 0 && len(req.Services) > 0 {
		serviceCount = len(req.Services)
	}
	if serviceCount == 0 {
		serviceCount = 1
	}

	var tier Tier
	var signals []string
	switch {
	case estimatedFiles <= 2 && serviceCount == 1 && len(integrations) == 0 && !infra && simpleHits > 0 && complexHits == 0:
		tier = TierSimple
		signals = append(signals, "small, single-service, no integrations, no infra change")
	case len(integrations) >= 2 || infra || serviceCount >= 3 || estimatedFiles >= 10 || complexHits >= 3:
		tier = TierComplex
		if len(integrations) >= 2 {
			signals = append(signals, "2+ external integrations detected")
		}
		if infra {
			signals = append(signals, "infrastructure change detected")
		}
		if serviceCount >= 3 {
			signals = append(signals, "3+ services in scope")
		}
		if estimatedFiles >= 10 {
			signals = append(signals, "10+ files estimated")
		}
		if complexHits >= 3 {
			signals = append(signals, "3+ complex-keyword hits")
		}
	default:
		tier = TierStandard
		signals = append(signals, "did not meet simple or complex thresholds")
	}

	needsResearch := len(integrations) > 0 || tier == TierComplex
	needsSelfCritique := tier == TierComplex

	return ComplexityAssessment{
		Complexity:            tier,
		Confidence:            0.6, // heuristic path never claims high confidence
		Reasoning:             "heuristic classification: " + strings.Join(signals, "; "),
		Signals:               signals,
		EstimatedFiles:        estimatedFiles,
		EstimatedServices:     serviceCount,
		ExternalIntegrations:  integrations,
		InfrastructureChanges: infra,
		PhasesToRun:           phasesForTier(tier, needsResearch, needsSelfCritique),
		NeedsResearch:         needsResearch,
		NeedsSelfCritique:     needsSelfCritique,
		CreatedAt:             time.Now().UTC(),
		FromHeuristic:         true,
	}
}

func dedupeMatches(matches []string) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// phasesForTier returns the default phase set for a tier (spec.md §4.5.1),
// used whenever the AI classifier didn't supply phases_to_run itself.
func phasesForTier(tier Tier, needsResearch, needsSelfCritique bool) []string {
	switch tier {
	case TierSimple:
		return []string{PhaseDiscovery, PhaseHistoricalContext, PhaseQuickSpec, PhaseValidation}
	case TierComplex:
		return []string{
			PhaseDiscovery, PhaseHistoricalContext, PhaseRequirements,
			PhaseComplexityAssessment, PhaseResearch, PhaseContext,
			PhaseSpecWriting, PhaseSelfCritique, PhasePlanning, PhaseValidation,
		}
	default: // standard
		phases := []string{
			PhaseDiscovery, PhaseHistoricalContext, PhaseRequirements,
			PhaseComplexityAssessment,
		}
		if needsResearch {
			phases = append(phases, PhaseResearch)
		}
		phases = append(phases, PhaseContext, PhaseSpecWriting)
		if needsSelfCritique {
			phases = append(phases, PhaseSelfCritique)
		}
		phases = append(phases, PhasePlanning, PhaseValidation)
		return phases
	}
}

// aiComplexityVerdict is the JSON envelope the agent emits on the AI path.
type aiComplexityVerdict struct {
	Complexity           Tier     `json:"complexity"`
	Confidence           float64  `json:"confidence"`
	Reasoning            string   `json:"reasoning"`
	Signals              []string `json:"signals"`
	EstimatedFiles       int      `json:"estimated_files"`
	EstimatedServices    int      `json:"estimated_services"`
	ExternalIntegrations []string `json:"external_integrations"`
	InfrastructureChanges bool    `json:"infrastructure_changes"`
	RecommendedPhases    []string `json:"recommended_phases"`
	NeedsResearch        bool     `json:"needs_research"`
	NeedsSelfCritique    bool     `json:"needs_self_critique"`
}

// parseAIComplexity decodes the agent's JSON verdict. Callers fall back to
// HeuristicAssess when this returns an error, per spec.md §4.5.1: "If the
// agent fails or the file is malformed, fall back to heuristic."
func parseAIComplexity(raw string) (ComplexityAssessment, error) {
	var verdict aiComplexityVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return ComplexityAssessment{}, err
	}
	phases := verdict.RecommendedPhases
	if len(phases) == 0 {
		phases = phasesForTier(verdict.Complexity, verdict.NeedsResearch, verdict.NeedsSelfCritique)
	}
	return ComplexityAssessment{
		Complexity:            verdict.Complexity,
		Confidence:            verdict.Confidence,
		Reasoning:             verdict.Reasoning,
		Signals:               verdict.Signals,
		EstimatedFiles:        verdict.EstimatedFiles,
		EstimatedServices:     verdict.EstimatedServices,
		ExternalIntegrations:  verdict.ExternalIntegrations,
		InfrastructureChanges: verdict.InfrastructureChanges,
		PhasesToRun:           phases,
		NeedsResearch:         verdict.NeedsResearch,
		NeedsSelfCritique:     verdict.NeedsSelfCritique,
		CreatedAt:             time.Now().UTC(),
	}, nil
}
