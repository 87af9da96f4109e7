package connector

import (
	"testing"

	"github.com/srg/swlink/watcher"
	"github.com/stretchr/testify/assert"
)

func candidates(names ...string) *watcher.CandidateSet {
	set := watcher.NewCandidateSet()
	for i, name := range names {
		id := string(rune('a' + i))
		set.Add(watcher.PeripheralRecord{ID: id, Name: name, Address: id})
	}
	return set
}

func names(recs []watcher.PeripheralRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name  string
		set   *watcher.CandidateSet
		allow []string
		want  []string
	}{
		{"single match", candidates("Petrel"), DefaultAllowList, []string{"Petrel"}},
		{"no match", candidates("Other"), DefaultAllowList, nil},
		{"order follows candidates", candidates("Petrel", "Other", "Perdix"), DefaultAllowList, []string{"Petrel", "Perdix"}},
		{"exact match only", candidates("petrel", "Petrel 3", "Perdix AI"), DefaultAllowList, nil},
		{"duplicate names are both selected", candidates("Perdix", "Perdix"), DefaultAllowList, []string{"Perdix", "Perdix"}},
		{"empty set", watcher.NewCandidateSet(), DefaultAllowList, nil},
		{"nil set", nil, DefaultAllowList, nil},
		{"empty allow list", candidates("Petrel"), nil, nil},
		{"custom allow list", candidates("Petrel", "Teric"), []string{"Teric"}, []string{"Teric"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Select(tt.set, tt.allow)
			assert.Equal(t, tt.want, names(first))
			assert.Equal(t, first, Select(tt.set, tt.allow), "selection MUST be deterministic")
		})
	}
}
