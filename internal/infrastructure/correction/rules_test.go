package correction

import (
	"testing"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

func TestRulesetOrdersByTierThenFrequency(t *testing.T) {
	rs := NewRuleset([]domain.CorrectionRule{
		{Pattern: "ab", Replacement: "low", Priority: domain.PriorityLow, Frequency: 1000},
		{Pattern: "ab", Replacement: "crit-rare", Priority: domain.PriorityCritical, Frequency: 1},
		{Pattern: "ab", Replacement: "crit-common", Priority: domain.PriorityCritical, Frequency: 50},
		{Pattern: "ab", Replacement: "crit-tie", Priority: domain.PriorityCritical, Frequency: 50},
		{Pattern: "ab", Replacement: "high", Priority: domain.PriorityHigh, Frequency: 10},
	})

	rules := rs.Rules()
	want := []string{"crit-common", "crit-tie", "crit-rare", "high", "low"}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for i, rule := range rules {
		if rule.Replacement != want[i] {
			t.Fatalf("rule %d = %s, want %s", i, rule.Replacement, want[i])
		}
	}
	if got := rs.Apply("ab"); got != "crit-common" {
		t.Fatalf("Apply() = %q", got)
	}
}

func TestRulesetSinglePassDoesNotOscillate(t *testing.T) {
	rs := NewRuleset([]domain.CorrectionRule{
		{Pattern: "0", Replacement: "O", Priority: domain.PriorityCritical},
		{Pattern: "O", Replacement: "0", Priority: domain.PriorityLow},
	})
	if got := rs.Apply("X0"); got != "X0" {
		t.Fatalf("Apply() = %q", got)
	}
}

func TestRulesetSkipsMalformedRules(t *testing.T) {
	rs := NewRuleset([]domain.CorrectionRule{
		{Pattern: "", Replacement: "x", Priority: domain.PriorityHigh},
		{Pattern: "(", Replacement: "x", Regex: true, Priority: domain.PriorityHigh},
		{Pattern: "a", Replacement: "b", Priority: "urgent"},
		{Pattern: "same", Replacement: "same", Priority: domain.PriorityLow},
		{Pattern: "ok", Replacement: "OK", Priority: domain.PriorityLow},
	})
	if rs.Len() != 1 {
		t.Fatalf("expected 1 usable rule, got %d", rs.Len())
	}
	if got := rs.Apply("ok"); got != "OK" {
		t.Fatalf("Apply() = %q", got)
	}
}

func TestRulesetIsIdempotent(t *testing.T) {
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	rs := NewRuleset(rules)

	inputs := []string{
		"บบริษัท",
		"รายได จากการขาย",
		"เจ้าหนี การค้า",
		"บริษัท   จำกัด",
		"สินทรัพย หมุนเวียน",
		"ค าใช จ าย",
		"COMPANY.,LTD.",
	}
	for _, in := range inputs {
		once := rs.Apply(Canonicalize(in))
		twice := rs.Apply(Canonicalize(once))
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
	if got := rs.Apply("บบริษัท"); got != "บริษัท" {
		t.Fatalf("duplication fix = %q", got)
	}
	if got := rs.Apply("รายได"); got != "รายได้" {
		t.Fatalf("prefix fix = %q", got)
	}
}

func TestRulesetRegexExpansion(t *testing.T) {
	rs := NewRuleset([]domain.CorrectionRule{
		{Pattern: `(\d+)\s*บ\.`, Replacement: "$1 บาท", Regex: true, Priority: domain.PriorityMedium},
	})
	if got := rs.Apply("ราคา 100บ."); got != "ราคา 100 บาท" {
		t.Fatalf("Apply() = %q", got)
	}
}
