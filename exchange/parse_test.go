package exchange

import "testing"

func TestParseGrade(t *testing.T) {
	cases := []struct {
		marketName string
		eventName  string
		want       string
	}{
		{"A5 480m", "Romford 29th Aug", "A5"},
		{"OR 515m", "Towcester", "OR"},
		{"HC 462m", "Hove", "HC"},
		{"D3 280m", "Crayford", "D3"},
		{"480m", "Monmore A7", "A7"},
		{"Mdn 500m", "Sheffield", "Mdn"},
		{"Puppy Final 480m", "Monmore", "Final"},
		{"To Be Placed", "Nottingham", ""},
	}
	for _, tc := range cases {
		if got := ParseGrade(tc.marketName, tc.eventName); got != tc.want {
			t.Errorf("ParseGrade(%q, %q) = %q, want %q", tc.marketName, tc.eventName, got, tc.want)
		}
	}
}

func TestParseDistance(t *testing.T) {
	cases := []struct {
		marketName string
		want       int
	}{
		{"A5 480m", 480},
		{"OR 1010m", 1010},
		{"A1", 0},
		{"Race 5 262m", 262},
	}
	for _, tc := range cases {
		if got := ParseDistance(tc.marketName); got != tc.want {
			t.Errorf("ParseDistance(%q) = %d, want %d", tc.marketName, got, tc.want)
		}
	}
}

func TestParseTrap(t *testing.T) {
	cases := []struct {
		runnerName string
		metadata   map[string]string
		wantTrap   int
		wantName   string
	}{
		{"1. Swift Hostage", nil, 1, "Swift Hostage"},
		{"6. Droopys Clue", map[string]string{"CLOTH_NUMBER": "6"}, 6, "Droopys Clue"},
		{"Ballymac Taylor", map[string]string{"CLOTH_NUMBER": "3"}, 3, "Ballymac Taylor"},
		{"Headford Lane", nil, 0, "Headford Lane"},
	}
	for _, tc := range cases {
		trap, name := ParseTrap(tc.runnerName, tc.metadata)
		if trap != tc.wantTrap || name != tc.wantName {
			t.Errorf("ParseTrap(%q) = (%d, %q), want (%d, %q)", tc.runnerName, trap, name, tc.wantTrap, tc.wantName)
		}
	}
}
