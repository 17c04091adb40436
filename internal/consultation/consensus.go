package consultation

import (
	"sort"
	"time"
)

// ComputeVerdict groups the latest opinion of each agent by exact diagnosis
// text and returns the largest group. Ties go to the group whose diagnosis
// appears first when walking agentOrder (the selection order). Agents present
// in opinions but missing from agentOrder are visited afterwards by id.
//
// AverageConfidence is the mean over the winning group only.
func ComputeVerdict(agentOrder []string, opinions map[string]Opinion) (Verdict, error) {
	if len(opinions) == 0 {
		return Verdict{}, &InsufficientDataError{}
	}

	order := visitOrder(agentOrder, opinions)

	type group struct {
		diagnosis  string
		count      int
		confidence int
	}
	var groups []*group
	index := make(map[string]*group)
	for _, id := range order {
		op := opinions[id]
		g, ok := index[op.Diagnosis]
		if !ok {
			g = &group{diagnosis: op.Diagnosis}
			index[op.Diagnosis] = g
			groups = append(groups, g)
		}
		g.count++
		g.confidence += op.Confidence
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.count > best.count {
			best = g
		}
	}

	total := len(opinions)
	return Verdict{
		ConsensusDiagnosis: best.diagnosis,
		AgreementCount:     best.count,
		TotalAgents:        total,
		AgreementRatio:     float64(best.count) / float64(total),
		AverageConfidence:  float64(best.confidence) / float64(best.count),
		ComputedAt:         time.Now(),
	}, nil
}

func visitOrder(agentOrder []string, opinions map[string]Opinion) []string {
	order := make([]string, 0, len(opinions))
	seen := make(map[string]bool, len(opinions))
	for _, id := range agentOrder {
		if _, ok := opinions[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range opinions {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// LatestOpinions reduces per-agent opinion history to the most recent entry.
func LatestOpinions(history map[string][]Opinion) map[string]Opinion {
	latest := make(map[string]Opinion, len(history))
	for id, ops := range history {
		if len(ops) > 0 {
			latest[id] = ops[len(ops)-1]
		}
	}
	return latest
}
