// Package body defines what crosses the boundary between the core and the
// robot each cycle: sensor readings in, actuator commands out. Commands are
// chosen by per-resource bidding.
package body

import (
	"fmt"
	"strings"
)

// Resource is an actuator that at most one bid may drive per cycle.
type Resource int

const (
	Pan Resource = iota
	Tilt
	Lift
	Move
	Turn
	Skew
	ArmPos
	ArmDir
	GripWidth
	GripForce
	numResources
)

var resourceNames = [...]string{"pan", "tilt", "lift", "move", "turn", "skew", "arm_pos", "arm_dir", "grip_width", "grip_force"}

func (r Resource) String() string {
	if r < 0 || r >= numResources {
		return fmt.Sprintf("Resource(%d)", int(r))
	}
	return resourceNames[r]
}

// ParseResource converts a resource name.
func ParseResource(s string) (Resource, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range resourceNames {
		if n == s {
			return Resource(i), true
		}
	}
	return 0, false
}

// Resources lists every resource in order.
func Resources() []Resource {
	out := make([]Resource, numResources)
	for i := range out {
		out[i] = Resource(i)
	}
	return out
}

// Vec3 is a position or orientation. Scalar resources use X only.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Bid asks for a resource for one cycle.
type Bid struct {
	Target     Vec3    `json:"target"`
	Rate       float64 `json:"rate"`
	Importance float64 `json:"importance"`
}

// Hardware records which subsystems are present.
type Hardware struct {
	Neck bool `json:"neck"`
	Arm  bool `json:"arm"`
	Fork bool `json:"fork"`
	Base bool `json:"base"`
}

// Has reports whether the subsystem driving r is present.
func (h Hardware) Has(r Resource) bool {
	switch r {
	case Pan, Tilt:
		return h.Neck
	case ArmPos, ArmDir, GripWidth, GripForce:
		return h.Arm
	case Lift:
		return h.Fork
	default:
		return h.Base
	}
}

// Mood bits reported by the body.
const (
	MoodBored uint32 = 1 << iota
	MoodTired
	MoodHappy
	MoodAlarmed
)

// Sensors is the sensor bundle read at the start of a cycle.
type Sensors struct {
	CamPan    float64 `json:"cam_pan"`
	CamTilt   float64 `json:"cam_tilt"`
	Battery   float64 `json:"battery"` // fraction of full charge
	BodyTilt  float64 `json:"body_tilt"`
	BodyRoll  float64 `json:"body_roll"`
	MapX      float64 `json:"map_x"`
	MapY      float64 `json:"map_y"`
	MapDir    float64 `json:"map_dir"` // heading in degrees
	Odometer  float64 `json:"odometer"`
	GripWidth float64 `json:"grip_width"`
	GripForce float64 `json:"grip_force"`
	Mood      uint32  `json:"mood"`
	Bump      bool    `json:"bump"`
}

// Exchange is everything the host trades with the core around one Think.
// Before Think the host fills Input, Sensors and Hardware; after it reads
// Output and Commands.
type Exchange struct {
	Input    string           `json:"input,omitempty"`
	Output   string           `json:"output,omitempty"`
	Sensors  Sensors          `json:"sensors"`
	Commands map[Resource]Bid `json:"-"`
	Named    map[string]Bid   `json:"commands,omitempty"`
	Hardware Hardware         `json:"hardware"`
}

// Publish copies the arbiter winners into the exchange.
func (x *Exchange) Publish(a *Arbiter) {
	x.Commands = a.Commands()
	x.Named = make(map[string]Bid, len(x.Commands))
	for r, b := range x.Commands {
		x.Named[r.String()] = b
	}
}
