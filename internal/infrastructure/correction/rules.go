package correction

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type compiledRule struct {
	rule        domain.CorrectionRule
	pattern     string
	replacement string
	re          *regexp.Regexp
	// guarded rules skip matches already sitting inside their own replacement,
	// which keeps prefix-style fixes such as "รายได" -> "รายได้" idempotent.
	guarded bool
}

// Ruleset is an immutable, deterministically ordered list of corrections:
// priority tier first, then descending frequency, then registration order.
type Ruleset struct {
	rules []compiledRule
}

// NewRuleset compiles rules. Malformed rules are skipped with a warning so a
// single bad entry never disables the rest of the set.
func NewRuleset(rules []domain.CorrectionRule) *Ruleset {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			slog.Warn("correction_rule_skipped", "index", i, "pattern", rule.Pattern, "error", err)
			continue
		}
		if c.pattern == c.replacement && c.re == nil {
			continue
		}
		compiled = append(compiled, c)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		ri, rj := compiled[i].rule.Priority.Rank(), compiled[j].rule.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return compiled[i].rule.Frequency > compiled[j].rule.Frequency
	})
	return &Ruleset{rules: compiled}
}

func compileRule(rule domain.CorrectionRule) (compiledRule, error) {
	if strings.TrimSpace(rule.Pattern) == "" {
		return compiledRule{}, fmt.Errorf("empty pattern")
	}
	if rule.Priority.Rank() < 0 {
		return compiledRule{}, fmt.Errorf("unknown priority %q", rule.Priority)
	}
	if rule.Frequency < 0 {
		return compiledRule{}, fmt.Errorf("negative frequency %d", rule.Frequency)
	}

	c := compiledRule{
		rule:        rule,
		replacement: Canonicalize(rule.Replacement),
	}
	if rule.Regex {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("compile pattern: %w", err)
		}
		c.re = re
		c.pattern = rule.Pattern
		c.guarded = !strings.Contains(c.replacement, "$")
		return c, nil
	}
	c.pattern = Canonicalize(rule.Pattern)
	c.guarded = true
	return c, nil
}

func (rs *Ruleset) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns the rules in application order.
func (rs *Ruleset) Rules() []domain.CorrectionRule {
	if rs == nil {
		return nil
	}
	out := make([]domain.CorrectionRule, 0, len(rs.rules))
	for _, c := range rs.rules {
		out = append(out, c.rule)
	}
	return out
}

// Apply runs every rule once, in order, over s.
func (rs *Ruleset) Apply(s string) string {
	if rs == nil {
		return s
	}
	for _, rule := range rs.rules {
		s = rule.apply(s)
	}
	return s
}

func (r compiledRule) apply(s string) string {
	var matches [][]int
	if r.re != nil {
		matches = r.re.FindAllStringSubmatchIndex(s, -1)
	} else {
		matches = literalSpans(s, r.pattern, false)
	}
	if len(matches) == 0 {
		return s
	}

	var guards [][]int
	if r.guarded {
		guards = literalSpans(s, r.replacement, true)
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		if m[0] == m[1] || covered(guards, m[0], m[1]) {
			continue
		}
		b.WriteString(s[last:m[0]])
		if r.re != nil {
			b.Write(r.re.ExpandString(nil, r.replacement, s, m))
		} else {
			b.WriteString(r.replacement)
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// literalSpans finds occurrences of needle; overlapping ones too when asked.
func literalSpans(s, needle string, overlapping bool) [][]int {
	if needle == "" {
		return nil
	}
	var spans [][]int
	offset := 0
	for offset <= len(s) {
		idx := strings.Index(s[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		spans = append(spans, []int{start, start + len(needle)})
		if overlapping {
			offset = start + firstRuneLen(s[start:])
		} else {
			offset = start + len(needle)
		}
	}
	return spans
}

func firstRuneLen(s string) int {
	for i := range s {
		if i > 0 {
			return i
		}
	}
	return len(s)
}

func covered(spans [][]int, start, end int) bool {
	for _, span := range spans {
		if span[0] <= start && end <= span[1] {
			return true
		}
	}
	return false
}
