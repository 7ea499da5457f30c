package cloud

import "strings"

// MatchesAny reports whether any of the words occurs in the machine's name,
// alias or owner alias.
func MatchesAny(m *Machine, words []string) bool {
	for _, word := range words {
		if word == "" {
			continue
		}
		if strings.Contains(m.Name, word) ||
			strings.Contains(m.Alias, word) ||
			strings.Contains(m.OwnerAlias, word) {
			return true
		}
	}
	return false
}

func keepMachines(machines []*Machine, keep func(*Machine) bool) []*Machine {
	var kept []*Machine
	for _, m := range machines {
		if keep(m) {
			kept = append(kept, m)
		}
	}
	return kept
}
