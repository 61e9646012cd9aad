package models

import (
	"fmt"
	"slices"
	"strings"
)

// Condition slots of a switch node. A switch always has exactly these three outputs.
const (
	PortCondition1 = "condition1"
	PortCondition2 = "condition2"
	PortCondition3 = "condition3"
)

// MarkerArrowClosed is the directional marker drawn at the end of every edge.
const MarkerArrowClosed = "arrowclosed"

// ConditionPorts lists the switch output slots in order.
var ConditionPorts = []string{PortCondition1, PortCondition2, PortCondition3}

// IsConditionPort reports whether port names one of the switch output slots.
func IsConditionPort(port string) bool {
	return slices.Contains(ConditionPorts, port)
}

// ConditionLabel returns the display label of a condition slot, e.g. "Condition 2".
func ConditionLabel(port string) string {
	if !IsConditionPort(port) {
		return ""
	}

	return fmt.Sprintf("Condition %s", strings.TrimPrefix(port, "condition"))
}

// WorkflowEdge is a directed connection between two nodes of the same workflow.
type WorkflowEdge struct {
	ID         string `json:"id"                    validate:"required"`
	Source     string `json:"source"                validate:"required"`
	Target     string `json:"target"                validate:"required"`
	SourcePort string `json:"source_port,omitempty" validate:"omitempty,oneof=condition1 condition2 condition3"`
	Label      string `json:"label,omitempty"`
	Animated   bool   `json:"animated"`
	Marker     string `json:"marker,omitempty"`
}

func (e *WorkflowEdge) Clone() *WorkflowEdge {
	if e == nil {
		return nil
	}

	clone := *e

	return &clone
}
