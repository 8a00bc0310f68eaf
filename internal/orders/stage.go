package orders

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stage is the order's position in the production pipeline. The numeric values are part
// of the wire format and the stored document.
type Stage int

const (
	StagePlaced    Stage = 1
	StageStitching Stage = 2
	StageWashing   Stage = 3
	StageFinishing Stage = 4
	StageComplete  Stage = 5
	StageCancelled Stage = 6
)

var stageNames = map[Stage]string{
	StagePlaced:    "placed",
	StageStitching: "stitching",
	StageWashing:   "washing",
	StageFinishing: "finishing",
	StageComplete:  "complete",
	StageCancelled: "cancelled",
}

// Valid reports whether s is one of the declared stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// ParseStage accepts either the numeric value or the stage name.
func ParseStage(raw string) (Stage, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		s := Stage(n)
		if s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("orders: unknown stage %d", n)
	}
	for s, name := range stageNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("orders: unknown stage %q", raw)
}

// StageChange is one entry of the append-only stage history.
type StageChange struct {
	Stage     Stage     `json:"stage"`
	ChangedAt time.Time `json:"changedAt"`
}

// AdvanceIfLower moves the order to target only when it is currently at an earlier
// stage. It reports whether the order changed.
func AdvanceIfLower(o *Order, target Stage, at time.Time) bool {
	if o == nil || !target.Valid() || !o.Stage.Before(target) {
		return false
	}
	o.Stage = target
	o.StageHistory = append(o.StageHistory, StageChange{Stage: target, ChangedAt: at})
	return true
}

// SetStage overrides the stage unconditionally. Lower values and moves out of Complete or
// Cancelled are allowed. History grows whenever the value differs from the current one.
func SetStage(o *Order, explicit Stage, at time.Time) bool {
	if o == nil || !explicit.Valid() || o.Stage == explicit {
		return false
	}
	o.Stage = explicit
	o.StageHistory = append(o.StageHistory, StageChange{Stage: explicit, ChangedAt: at})
	return true
}
