package domain

// DetectionMethod identifies the signal source that produced a finding.
type DetectionMethod string

const (
	MethodRule       DetectionMethod = "rule"
	MethodHistorical DetectionMethod = "historical"
	MethodAI         DetectionMethod = "ai"
	MethodSemantic   DetectionMethod = "semantic"
)

// MethodPriority orders detection methods for deterministic deduplication:
// when two findings for the same risk carry equal confidence, the method
// with the lower value wins.
func MethodPriority(m DetectionMethod) int {
	switch m {
	case MethodRule:
		return 0
	case MethodHistorical:
		return 1
	case MethodAI:
		return 2
	case MethodSemantic:
		return 3
	}
	return 4
}

// Finding is one detector's evidence that a catalog risk applies to an
// opportunity. Findings exist only during an evaluation pass.
type Finding struct {
	RiskID     string                 `json:"riskId"`
	Category   RiskCategory           `json:"category"`
	Method     DetectionMethod        `json:"detectionMethod"`
	Confidence float64                `json:"confidence"`
	Evidence   map[string]interface{} `json:"evidence,omitempty"`

	// SourceShards lists the ids of related records that contributed to
	// this finding.
	SourceShards []string `json:"sourceShards,omitempty"`
}

// ServiceAvailability records which detector dependencies were reachable
// during an evaluation so aggregate confidence reflects degraded mode.
type ServiceAvailability struct {
	RuleEngine         bool `json:"ruleEngine"`
	HistoricalPatterns bool `json:"historicalPatterns"`
	ScoringOracle      bool `json:"groundingService"`
	VectorSearch       bool `json:"vectorSearch"`
}

// Assumptions captures data-completeness caveats attached to an
// evaluation. Detectors never fail on partial data; they record the gap
// here instead.
type Assumptions struct {
	MissingFields       []string            `json:"missingFields,omitempty"`
	DataStale           bool                `json:"dataStale"`
	ContextTruncated    bool                `json:"contextTruncated"`
	ServiceAvailability ServiceAvailability `json:"serviceAvailability"`
	Notes               []string            `json:"notes,omitempty"`
}
