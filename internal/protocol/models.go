package protocol

import (
	"fmt"
	"sort"
)

// Level bounds for intensity commands. The air pump is the one axis with a
// narrower range; controllers scale 0–20 input down to 0–5 for it.
const (
	MaxLevel    = 20
	AirMaxLevel = 5
)

// Capability is a control axis a device model may expose.
type Capability int

const (
	CapVibrate Capability = iota
	CapRotate
	CapThrust
	CapDepth
	CapAir
	CapOscillate
	CapFinger
	CapSuck
)

var capabilityNames = map[Capability]string{
	CapVibrate:   "Vibration",
	CapRotate:    "Rotation",
	CapThrust:    "Thrust",
	CapDepth:     "Depth",
	CapAir:       "Air",
	CapOscillate: "Oscillation",
	CapFinger:    "Fingering",
	CapSuck:      "Suction",
}

var capabilityOpcodes = map[Capability]Opcode{
	CapVibrate:   OpVibrate,
	CapRotate:    OpRotate,
	CapThrust:    OpThrust,
	CapDepth:     OpDepth,
	CapAir:       OpAir,
	CapOscillate: OpOscillate,
	CapFinger:    OpFinger,
	CapSuck:      OpSuck,
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// Opcode returns the level-command opcode that drives this axis.
func (c Capability) Opcode() Opcode { return capabilityOpcodes[c] }

// Model describes one device model's control surface. Axes lists the
// capabilities in protocol order: the primary axis first, then the
// secondary one if the model has it.
type Model struct {
	Name            string
	Axes            []Capability
	ChangeDirection bool // supports the RotateChange command
}

// Supports reports whether the model exposes the given axis.
func (m Model) Supports(c Capability) bool {
	for _, axis := range m.Axes {
		if axis == c {
			return true
		}
	}
	return false
}

// models is the static capability table, immutable at runtime. Several
// entries are uncertain in the reverse-engineered reference (second axis
// assumed from similar models); they are flagged in the capture notes, not
// here.
var models = map[string]Model{
	"Solace":     {Name: "Solace", Axes: []Capability{CapThrust, CapDepth}},
	"SolacePro":  {Name: "SolacePro", Axes: []Capability{CapThrust, CapDepth}},
	"SexMachine": {Name: "SexMachine", Axes: []Capability{CapThrust, CapDepth}},
	"Lush":       {Name: "Lush", Axes: []Capability{CapVibrate}},
	"Ferri":      {Name: "Ferri", Axes: []Capability{CapVibrate}},
	"Nora":       {Name: "Nora", Axes: []Capability{CapVibrate, CapRotate}, ChangeDirection: true},
	"Osci":       {Name: "Osci", Axes: []Capability{CapVibrate, CapOscillate}},
	"Mission":    {Name: "Mission", Axes: []Capability{CapVibrate}},
	"Flexer":     {Name: "Flexer", Axes: []Capability{CapVibrate, CapFinger}},
	"Gravity":    {Name: "Gravity", Axes: []Capability{CapVibrate, CapThrust}},
	"Dolce":      {Name: "Dolce", Axes: []Capability{CapVibrate}},
	"Vulse":      {Name: "Vulse", Axes: []Capability{CapVibrate}},
	"Tenera":     {Name: "Tenera", Axes: []Capability{CapSuck}},
	"Lapis":      {Name: "Lapis", Axes: []Capability{CapVibrate}},
	"Ambi":       {Name: "Ambi", Axes: []Capability{CapVibrate}},
	"Hyphy":      {Name: "Hyphy", Axes: []Capability{CapVibrate}},
	"Exomoon":    {Name: "Exomoon", Axes: []Capability{CapVibrate}},
	"Gush":       {Name: "Gush", Axes: []Capability{CapVibrate}},
	"Edge":       {Name: "Edge", Axes: []Capability{CapVibrate}},
	"Max":        {Name: "Max", Axes: []Capability{CapVibrate, CapAir}},
	"Diamo":      {Name: "Diamo", Axes: []Capability{CapVibrate}},
	"Calor":      {Name: "Calor", Axes: []Capability{CapVibrate}},
	"Ridge":      {Name: "Ridge", Axes: []Capability{CapVibrate, CapRotate}, ChangeDirection: true},
	"Hush":       {Name: "Hush", Axes: []Capability{CapVibrate}},
	"Domi":       {Name: "Domi", Axes: []Capability{CapVibrate}},
	"Gemini":     {Name: "Gemini", Axes: []Capability{CapVibrate}},
}

// LookupModel returns the capability entry for a model name.
func LookupModel(name string) (Model, bool) {
	m, ok := models[name]
	return m, ok
}

// KnownModel reports whether name is in the capability table.
func KnownModel(name string) bool {
	_, ok := models[name]
	return ok
}

// ModelNames returns all known model names, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
