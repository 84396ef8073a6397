package models

import "fmt"

// NodeKind is the legacy type of a node.
type NodeKind string

const (
	KindActivity    NodeKind = "activity"
	KindDecision    NodeKind = "decision"
	KindSignal      NodeKind = "signal"
	KindTimer       NodeKind = "timer"
	KindFlag        NodeKind = "flag"
	KindBranch      NodeKind = "branch"
	KindSubActivity NodeKind = "sub_activity"
)

// KindBehavior describes what the engine does with a node of a given kind.
type KindBehavior interface {
	// Dispatchable reports whether the node is handed to the client for work.
	Dispatchable() bool
	// DefaultMode is the mode used when the caller does not pick one.
	DefaultMode() Mode
}

type kindBehavior struct {
	dispatchable bool
	mode         Mode
}

func (b kindBehavior) Dispatchable() bool { return b.dispatchable }

func (b kindBehavior) DefaultMode() Mode { return b.mode }

var kindBehaviors = map[NodeKind]kindBehavior{
	KindActivity:    {dispatchable: true, mode: ModeBlocking},
	KindDecision:    {dispatchable: true, mode: ModeBlocking},
	KindBranch:      {dispatchable: true, mode: ModeBlocking},
	KindSubActivity: {dispatchable: true, mode: ModeBlocking},
	KindSignal:      {dispatchable: false, mode: ModeBlocking},
	KindTimer:       {dispatchable: false, mode: ModeBlocking},
	KindFlag:        {dispatchable: false, mode: ModeBlocking},
}

// Behavior returns the capabilities of the kind. Unknown kinds behave as activities.
//
//nolint:ireturn
func (k NodeKind) Behavior() KindBehavior {
	if b, ok := kindBehaviors[k]; ok {
		return b
	}

	return kindBehaviors[KindActivity]
}

// ParseNodeKind validates a kind name.
func ParseNodeKind(s string) (NodeKind, error) {
	kind := NodeKind(s)
	if _, ok := kindBehaviors[kind]; !ok {
		return "", fmt.Errorf("unknown node kind %q", s)
	}

	return kind, nil
}
