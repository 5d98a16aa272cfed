package motion

// Thresholds is spec.md §4.8's (T_high, T_low) pair: the accumulator
// value a cell must exceed to count as "moving", picked by which edge of
// the hysteresis loop is currently active. Invariant: High >= Low.
type Thresholds struct {
	High, Low float64
}

// AreaFractions is the (A_high, A_low) pair: the fraction of the frame
// that must be above threshold for the trigger to consider itself
// active. Invariant: High >= Low.
type AreaFractions struct {
	High, Low float64
}

// TriggerState is the hysteresis state machine of spec.md §4.8 step 3-4:
// while off, it takes T_high/A_high to turn on; while on, it takes the
// accumulator dropping below T_low over A_low's complement to turn back
// off. Held state never flips on two consecutive calls that land on the
// same raw verdict, by construction — Evaluate only flips when the raw
// verdict differs from the stored one.
type TriggerState struct {
	thresholds Thresholds
	areas      AreaFractions
	triggered  bool
}

func NewTriggerState(thresholds Thresholds, areas AreaFractions) *TriggerState {
	return &TriggerState{thresholds: thresholds, areas: areas}
}

// Triggered reports the currently-held state.
func (t *TriggerState) Triggered() bool { return t.triggered }

// Evaluate implements spec.md §4.8 steps 3-4 against field (a
// totalCells-sized grid, e.g. an Accumulator.Field()). It returns the
// (possibly unchanged) triggered state and whether this call flipped it.
func (t *TriggerState) Evaluate(field [][]float64) (triggered, changed bool) {
	threshold := t.thresholds.High
	minArea := t.areas.High
	if t.triggered {
		threshold = t.thresholds.Low
		minArea = t.areas.Low
	}

	total, above := 0, 0
	for _, row := range field {
		for _, v := range row {
			total++
			if v > threshold {
				above++
			}
		}
	}
	raw := total > 0 && float64(above) >= minArea*float64(total)

	if raw != t.triggered {
		t.triggered = raw
		return t.triggered, true
	}
	return t.triggered, false
}
