package watcher

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CandidateSet holds peripherals eligible for selection, in discovery order
// and deduplicated by ID. An empty set is a valid outcome.
type CandidateSet struct {
	records *orderedmap.OrderedMap[string, PeripheralRecord]
}

// NewCandidateSet creates an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{records: orderedmap.New[string, PeripheralRecord]()}
}

// Add inserts r, or replaces the record with the same ID keeping its position.
func (c *CandidateSet) Add(r PeripheralRecord) {
	c.records.Set(r.ID, r)
}

// Get returns the record for id.
func (c *CandidateSet) Get(id string) (PeripheralRecord, bool) {
	return c.records.Get(id)
}

func (c *CandidateSet) Len() int {
	if c == nil {
		return 0
	}
	return c.records.Len()
}

// Records returns the records in discovery order.
func (c *CandidateSet) Records() []PeripheralRecord {
	if c == nil {
		return nil
	}
	out := make([]PeripheralRecord, 0, c.records.Len())
	for pair := c.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (c *CandidateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Records())
}

// Reconcile folds an ordered event log into the candidate set.
//
// A peripheral is a candidate iff it was added and received at least one
// update. Removals are ignored unless dropRemoved is set, in which case an
// identifier whose last event is a removal is excluded.
func Reconcile(events []Event, dropRemoved bool) *CandidateSet {
	discovered := orderedmap.New[string, PeripheralRecord]()
	updates := make(map[string]int)
	last := make(map[string]EventType)

	for _, ev := range events {
		id := ev.ID()
		if id == "" {
			continue
		}
		switch ev.Type {
		case EventAdded:
			discovered.Set(id, *ev.Record)
		case EventUpdated:
			updates[id]++
			if rec, ok := discovered.Get(id); ok {
				discovered.Set(id, ev.Update.Apply(rec))
			}
		case EventRemoved:
		default:
			continue
		}
		last[id] = ev.Type
	}

	set := NewCandidateSet()
	for pair := discovered.Oldest(); pair != nil; pair = pair.Next() {
		if updates[pair.Key] == 0 {
			continue
		}
		if dropRemoved && last[pair.Key] == EventRemoved {
			continue
		}
		set.Add(pair.Value)
	}
	return set
}
