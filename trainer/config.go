// Package trainer implements the Worker (C6) and Coordinator (C7): the
// cooperative multi-instance self-play driver and the central
// evaluate/train cycle that ties the search tree, evaluator, and
// replay buffer together.
package trainer

import "sort"

// LRStep is one entry of a piecewise-constant learning-rate schedule:
// once step reaches Step, LR takes effect until a later threshold is
// crossed.
type LRStep struct {
	Step int     `json:"step"`
	LR   float64 `json:"lr"`
}

// Config holds every tunable named across spec.md §4.3/§4.4/§6.
type Config struct {
	Workers     int `json:"workers"`
	Concurrency int `json:"concurrency"`

	TotalSteps      int `json:"total_steps"`
	CheckpointEvery int `json:"checkpoint_every"`

	CInit float32 `json:"c_init"`
	CBase float32 `json:"c_base"`

	NoiseAlpha    float64 `json:"noise_alpha"`
	NoiseFraction float32 `json:"noise_fraction"`

	EvaluationsPerTurn int `json:"evaluations_per_turn"`
	MaxTurns           int `json:"max_turns"`

	BufferSize int `json:"buffer_size"`
	BatchSize  int `json:"batch_size"`

	WeightDecay float32  `json:"weight_decay"`
	LRSchedule  []LRStep `json:"lr_schedule"`
}

// IsValid performs the basic sanity checks a misconfigured run would
// otherwise fail on in confusing ways deep inside a goroutine.
func (c Config) IsValid() bool {
	return c.Workers >= 1 &&
		c.Concurrency >= 1 &&
		c.TotalSteps >= 1 &&
		c.EvaluationsPerTurn >= 1 &&
		c.MaxTurns >= 1 &&
		c.BufferSize >= 1 &&
		c.BatchSize >= 1 &&
		len(c.LRSchedule) >= 1
}

// LearningRate evaluates the piecewise-constant schedule at step: the
// rate associated with the highest threshold not exceeding step.
func (c Config) LearningRate(step int) float64 {
	sorted := append([]LRStep(nil), c.LRSchedule...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })

	rate := sorted[0].LR
	for _, s := range sorted {
		if step >= s.Step {
			rate = s.LR
		}
	}
	return rate
}
