package connector

import "github.com/srg/swlink/watcher"

// DefaultAllowList holds the advertised names of the supported dive computers.
var DefaultAllowList = []string{"Perdix", "Petrel"}

// Select returns the candidates whose advertised name exactly matches an
// allow-list entry, in candidate order. It has no side effects.
func Select(set *watcher.CandidateSet, allowList []string) []watcher.PeripheralRecord {
	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[name] = struct{}{}
	}

	var selected []watcher.PeripheralRecord
	for _, rec := range set.Records() {
		if _, ok := allowed[rec.Name]; ok {
			selected = append(selected, rec)
		}
	}
	return selected
}
