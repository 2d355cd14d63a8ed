package topology

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// APIVersion of the clock tree documents understood by this package
	APIVersion = "clocktree.k8snetworkplumbingwg.io/v1alpha1"
	// Kind of a clock tree document
	Kind = "ClockTree"
)

// ClockTree is the declarative description of a board clock tree: the
// nodes, how they are wired and the states that can be applied to them.
type ClockTree struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ClockTreeSpec `json:"spec"`
}

// ClockTreeSpec ...
type ClockTreeSpec struct {
	// Family selects the STM32 register layout. Named field references
	// ("ref: HSEON") and bus prescaler tables are resolved against it.
	Family string `json:"family,omitempty"`

	// RegisterBase overrides the physical base address of the clock
	// controller (the family RCC base by default).
	RegisterBase uint64 `json:"registerBase,omitempty"`

	// EngineVersion pins the clock engine features to those of an older
	// release (the running one by default).
	EngineVersion string `json:"engineVersion,omitempty"`

	Nodes   []NodeSpec   `json:"nodes"`
	Outputs []OutputSpec `json:"outputs,omitempty"`

	// BackupDomain lists the outputs whose registers are write protected
	// by the backup domain.
	BackupDomain []string `json:"backupDomain,omitempty"`

	FlashLatency *FlashLatencySpec `json:"flashLatency,omitempty"`
}

// NodeSpec describes one clock node.
type NodeSpec struct {
	Name string `json:"name"`
	// Compatible selects the node implementation, e.g. "st,stm32-clock-gate"
	Compatible string `json:"compatible"`

	// Parent of single-input nodes
	Parent string `json:"parent,omitempty"`
	// Inputs of a mux, in selector order. An empty name is a reserved input.
	Inputs []string `json:"inputs,omitempty"`

	// Rate of oscillators, in Hz
	Rate uint32 `json:"rate,omitempty"`
	// Factor of fixed prescalers
	Factor uint32 `json:"factor,omitempty"`
	// Table of bus prescalers: "ahb" or "apb"
	Table string `json:"table,omitempty"`

	// Fields maps the register fields used by the node (enable, status,
	// select, div...) to their location.
	Fields map[string]FieldSpec `json:"fields,omitempty"`
}

// FieldSpec locates a register field, either by name in the family layout
// or explicitly.
type FieldSpec struct {
	Ref    string  `json:"ref,omitempty"`
	Offset *uint32 `json:"offset,omitempty"`
	Pos    uint8   `json:"pos,omitempty"`
	// Width defaults to 1
	Width uint8 `json:"width,omitempty"`
}

// OutputSpec is a consumer-facing clock and its states.
type OutputSpec struct {
	Name   string      `json:"name"`
	Node   string      `json:"node"`
	States []StateSpec `json:"states,omitempty"`
}

// StateSpec is a named, ordered list of steps.
type StateSpec struct {
	Name  string     `json:"name"`
	Steps []StepSpec `json:"steps"`
}

// StepSpec is one step of a state. The configure value is given either raw
// (Value) or, for PLL and oscillator nodes, in structured form.
type StepSpec struct {
	Node string `json:"node"`
	// Action is "configure" (default), "enable" or "disable"
	Action string `json:"action,omitempty"`
	Value  uint32 `json:"value,omitempty"`

	PLL    *PLLSpec    `json:"pll,omitempty"`
	ClkGen *ClkGenSpec `json:"clkgen,omitempty"`
}

// PLLSpec is the structured configure value of a PLL VCO.
type PLLSpec struct {
	DIVM   uint32 `json:"divm"`
	DIVN   uint32 `json:"divn"`
	FRACN  uint32 `json:"fracn,omitempty"`
	VCOSel uint32 `json:"vcosel,omitempty"`
	Range  uint32 `json:"range,omitempty"`
}

// ClkGenSpec is the structured configure value of an oscillator with bypass
// and drive settings.
type ClkGenSpec struct {
	Enable bool   `json:"enable"`
	Bypass bool   `json:"bypass,omitempty"`
	Drive  uint32 `json:"drive,omitempty"`
}

// FlashLatencySpec tells which nodes carry the flash clock.
type FlashLatencySpec struct {
	// HCLK is the node clocking the flash interface
	HCLK string `json:"hclk"`
	// AHB is the AHB prescaler configured by the states
	AHB string `json:"ahb"`
	// SysclkHz is the system clock rate programmed by the states
	SysclkHz uint32 `json:"sysclkHz"`
}
