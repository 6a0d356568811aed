package exchange

import (
	"regexp"
	"strconv"
	"strings"
)

// Market names look like "A5 480m" or "OR 515m"; event names sometimes carry
// the grade when the market name does not.
var (
	gradePattern    = regexp.MustCompile(`\b(OR[1-3]?|IT|IV|HP|A[1-9]\d?|B[1-9]|D[1-4]|S[1-9]|H[1-5]|P[1-9]|HC|M[1-9])\b`)
	classPattern    = regexp.MustCompile(`\b(Mdn|Maiden|Novice|Juvenile|Heat|Final|Semi|Trial)\b`)
	distancePattern = regexp.MustCompile(`\b(\d{3,4})m\b`)
	trapPrefix      = regexp.MustCompile(`^(\d)\.\s*(.+)$`)
)

// ParseGrade extracts the race grade from the market name, falling back to the
// event name. Letter grades win over textual race classes. Returns "" when
// neither carries anything recognizable.
func ParseGrade(marketName, eventName string) string {
	for _, s := range []string{marketName, eventName} {
		if m := gradePattern.FindString(s); m != "" {
			return m
		}
	}
	for _, s := range []string{marketName, eventName} {
		if m := classPattern.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

// ParseDistance extracts the race distance in metres from the market name.
// Returns 0 when absent.
func ParseDistance(marketName string) int {
	m := distancePattern.FindStringSubmatch(marketName)
	if m == nil {
		return 0
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return d
}

// ParseTrap resolves a runner's trap number and bare name. Runner metadata
// carries CLOTH_NUMBER when the exchange provides it; otherwise runner names
// use the "N. Name" convention.
func ParseTrap(runnerName string, metadata map[string]string) (int, string) {
	name := strings.TrimSpace(runnerName)

	if cloth, ok := metadata["CLOTH_NUMBER"]; ok {
		if n, err := strconv.Atoi(cloth); err == nil && n > 0 {
			if m := trapPrefix.FindStringSubmatch(name); m != nil {
				return n, strings.TrimSpace(m[2])
			}
			return n, name
		}
	}

	if m := trapPrefix.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, strings.TrimSpace(m[2])
		}
	}
	return 0, name
}
