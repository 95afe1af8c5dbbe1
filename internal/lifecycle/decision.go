// Package lifecycle decides what the next backup step is and carries it out.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/kebairia/xbauto/internal/backup"
	"github.com/kebairia/xbauto/internal/config"
)

// Action is the kind of step chosen for an invocation.
type Action int

const (
	ActionCreateBase Action = iota
	ActionCreateIncremental
	ActionArchiveThenCreateBase
)

func (a Action) String() string {
	switch a {
	case ActionCreateBase:
		return "create-base"
	case ActionCreateIncremental:
		return "create-incremental"
	case ActionArchiveThenCreateBase:
		return "archive-then-create-base"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of Decide. Index is set for incrementals only.
type Decision struct {
	Action Action
	Index  int
}

func (d Decision) String() string {
	if d.Action == ActionCreateIncremental {
		return fmt.Sprintf("%s(%d)", d.Action, d.Index)
	}
	return d.Action.String()
}

// Trigger names a condition that forced a rotation.
type Trigger string

const (
	TriggerUTCHour         Trigger = "utc-hour"
	TriggerMaxGap          Trigger = "max-time-between-backups"
	TriggerMaxIncrementals Trigger = "max-incrementals"
)

// Policy holds the rotation thresholds.
type Policy struct {
	EnforceAtHour bool
	// AtUTCHour is ignored when negative.
	AtUTCHour              int
	MaxTimeBetweenBackups  time.Duration
	EnforceMaxIncrementals bool
	// MaxIncrementals counts incrementals only, the base is not included.
	MaxIncrementals int
}

// PolicyFromConfig extracts the rotation policy from cfg.
func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		EnforceAtHour:          cfg.Archive.EnforceAtHour,
		AtUTCHour:              cfg.Archive.AtUTCHour,
		MaxTimeBetweenBackups:  cfg.Backup.MaxTimeBetweenBackups,
		EnforceMaxIncrementals: cfg.Archive.EnforceMaxIncrementals,
		MaxIncrementals:        cfg.Archive.MaxIncrementals,
	}
}

// Decide picks the next step from the directory state alone. It has no side
// effects, so the same state, policy and time always give the same result.
//
// Without a base the answer is always ActionCreateBase. Otherwise every
// trigger is evaluated independently and any of them forces a rotation.
// The hour trigger fires on every invocation during the matching hour.
func Decide(state backup.State, p Policy, now time.Time) (Decision, []Trigger) {
	if !state.HasBase {
		return Decision{Action: ActionCreateBase}, nil
	}

	var triggers []Trigger
	if p.EnforceAtHour && p.AtUTCHour >= 0 && now.UTC().Hour() == p.AtUTCHour {
		triggers = append(triggers, TriggerUTCHour)
	}
	// Whole seconds, strictly greater.
	gap := int64(now.Sub(state.NewestArtifactTime) / time.Second)
	if gap > int64(p.MaxTimeBetweenBackups/time.Second) {
		triggers = append(triggers, TriggerMaxGap)
	}
	if p.EnforceMaxIncrementals && state.MaxIncrementalIndex >= p.MaxIncrementals-1 {
		triggers = append(triggers, TriggerMaxIncrementals)
	}

	if len(triggers) > 0 {
		return Decision{Action: ActionArchiveThenCreateBase}, triggers
	}
	return Decision{Action: ActionCreateIncremental, Index: state.NextIncrementalIndex()}, nil
}
