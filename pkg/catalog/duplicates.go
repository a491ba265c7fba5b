package catalog

import (
	"math/rand"

	"synapseqc/pkg/features"
)

// DefaultSeed is the seed used for duplicate numbering of the published dataset
const DefaultSeed int64 = 42

// duplicateGroups returns record indices grouped by synapse ID. Groups are
// ordered by the first appearance of their ID; indices keep input order.
func duplicateGroups(records []*features.Record) [][]int {
	position := make(map[int64]int)
	var groups [][]int
	for i, r := range records {
		p, ok := position[r.SynapseID]
		if !ok {
			p = len(groups)
			position[r.SynapseID] = p
			groups = append(groups, nil)
		}
		groups[p] = append(groups[p], i)
	}
	return groups
}

// AssignDuplicateNumbers gives every record a duplicate number. The records
// sharing a synapse ID receive a random permutation of 1..N, so that the
// number carries no meaning about annotation order; records with a unique ID
// get 1. The assignment is a function of seed and input order only.
func AssignDuplicateNumbers(records []*features.Record, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, group := range duplicateGroups(records) {
		perm := rng.Perm(len(group))
		for i, idx := range group {
			records[idx].DuplicateNumber = perm[i] + 1
		}
	}
}

// DuplicateCounts returns how many records carry each synapse ID.
func DuplicateCounts(records []*features.Record) map[int64]int {
	counts := make(map[int64]int)
	for _, r := range records {
		counts[r.SynapseID]++
	}
	return counts
}

// ExtractDuplicates lists the records of every pair sharing a synapse ID, one
// pair after the other. A synapse annotated three times yields three pairs.
func ExtractDuplicates(records []*features.Record) []*features.Record {
	var pairs []*features.Record
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[i].SynapseID == records[j].SynapseID {
				pairs = append(pairs, records[i], records[j])
			}
		}
	}
	return pairs
}
