package usecase

import (
	"errors"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

var (
	orgFolderPattern    = regexp.MustCompile(`^(\d+)\s+(.+)$`)
	periodFolderPattern = regexp.MustCompile(`^[Yy](\d{2}|\d{4})$`)
)

type categoryPattern struct {
	category domain.Category
	pattern  *regexp.Regexp
	// yearGroup is the submatch index carrying a two-digit year, or 0.
	yearGroup int
}

// Checked in order against the file stem.
var categoryPatterns = []categoryPattern{
	{domain.CategoryBalanceSheet, regexp.MustCompile(`(?i)_BS(\d{2})$`), 1},
	{domain.CategoryIncomeStatement, regexp.MustCompile(`(?i)_PL(\d{2})$`), 1},
	{domain.CategoryComparativeBalanceSheet, regexp.MustCompile(`(?i)_Compare\s*BS$`), 0},
	{domain.CategoryComparativeIncome, regexp.MustCompile(`(?i)_Compare\s*PL$`), 0},
	{domain.CategoryCashFlow, regexp.MustCompile(`(?i)_Cash\s*Flow$`), 0},
	{domain.CategoryGeneralInfo, regexp.MustCompile(`(?i)_Gen\s*Info$`), 0},
	{domain.CategoryRatio, regexp.MustCompile(`(?i)_Ratio$`), 0},
	{domain.CategoryRelatedParty, regexp.MustCompile(`(?i)_Related$`), 0},
	{domain.CategoryShareholders, regexp.MustCompile(`(?i)_Shareholders$`), 0},
	{domain.CategoryOther, regexp.MustCompile(`(?i)_Others?$`), 0},
}

// ExtractMetadata derives organization, period and category from a path laid
// out as "<code> <name>/[Y<yy>/]<name>_<suffix>.pdf". Names outside the
// convention fall back to unclassified variants instead of failing.
func ExtractMetadata(path string) (domain.Metadata, error) {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	file := filepath.Base(cleaned)
	if cleaned == "." || file == "." || file == string(filepath.Separator) {
		return domain.Metadata{}, domain.WrapError(domain.ErrInvalidInput, "extract metadata", errors.New("empty path"))
	}

	dir := filepath.Dir(cleaned)
	orgFolder := filepath.Base(dir)
	var period domain.Period
	if periodFolderPattern.MatchString(orgFolder) {
		period = parsePeriod(orgFolder)
		orgFolder = filepath.Base(filepath.Dir(dir))
	}

	stem := strings.TrimSuffix(file, filepath.Ext(file))
	category := domain.CategoryUnclassified
	for _, candidate := range categoryPatterns {
		match := candidate.pattern.FindStringSubmatch(stem)
		if match == nil {
			continue
		}
		category = candidate.category
		if period.Token == "" && candidate.yearGroup > 0 {
			period = parsePeriod("Y" + match[candidate.yearGroup])
		}
		break
	}

	return domain.Metadata{
		Organization: parseOrganization(orgFolder),
		Period:       period,
		Category:     category,
	}, nil
}

func parseOrganization(folder string) domain.Organization {
	folder = strings.TrimSpace(folder)
	if folder == "." || folder == string(filepath.Separator) {
		folder = ""
	}
	match := orgFolderPattern.FindStringSubmatch(folder)
	if match == nil {
		return domain.Organization{Code: folder, Name: folder}
	}
	return domain.Organization{
		Code:       match[1],
		Name:       strings.TrimSpace(match[2]),
		Classified: true,
	}
}

func parsePeriod(token string) domain.Period {
	token = strings.ToUpper(strings.TrimSpace(token))
	match := periodFolderPattern.FindStringSubmatch(token)
	if match == nil {
		return domain.Period{Token: token}
	}
	year, err := strconv.Atoi(match[1])
	if err != nil {
		return domain.Period{Token: token}
	}
	switch {
	case len(match[1]) == 2:
		year += 2500
	case year < 2400:
		return domain.Period{Token: token, YearBE: year + 543, YearCE: year}
	}
	return domain.Period{
		Token:  token,
		YearBE: year,
		YearCE: year - 543,
	}
}
