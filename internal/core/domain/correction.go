package domain

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders tiers; lower ranks apply first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return -1
	}
}

type RuleType string

const (
	RuleDuplication  RuleType = "duplication"
	RuleConfusable   RuleType = "confusable_character"
	RuleAbbreviation RuleType = "abbreviation_punctuation"
	RuleSegmentation RuleType = "segmentation"
)

type CorrectionRule struct {
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Replacement string   `json:"replacement" yaml:"replacement"`
	Regex       bool     `json:"regex,omitempty" yaml:"regex,omitempty"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Frequency   int      `json:"frequency" yaml:"frequency"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Type        RuleType `json:"type" yaml:"type"`
}
