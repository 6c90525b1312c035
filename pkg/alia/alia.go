// Package alia is the flat calling convention for hosts that drive one
// robot per process. It keeps a single core in package state and mirrors
// the exchange in package variables: set Sensors (and call SpIn) before
// Think, read Commands (and SpOut) after.
//
//	alia.Body(true, true, false, true)
//	if err := alia.Reset("./robot", "Alia Smith", "demo"); err != nil { ... }
//	for {
//	    alia.Sensors = readSensors()
//	    alia.SpIn(heard())
//	    if alia.Think() <= 0 { break }
//	    say(alia.SpOut())
//	    drive(alia.Commands)
//	}
//	alia.Done(true)
//
// Nothing here is safe for concurrent use.
package alia

import (
	"path/filepath"

	"alia/internal/body"
	"alia/internal/config"
	"alia/internal/core"
	"alia/internal/kernel/basic"
)

// Return codes of Think.
const (
	OK       = core.CodeOK
	NotReady = core.CodeNotReady
	Quit     = core.CodeQuit
	Problem  = core.CodeProblem
)

var (
	// Sensors is read by the next Think.
	Sensors body.Sensors
	// Commands holds the actuator commands of the last Think by resource
	// name.
	Commands map[string]body.Bid
	// Hardware is what Body last declared.
	Hardware body.Hardware

	c     *core.Core
	input string
	said  string
)

func ensure() *core.Core {
	if c == nil {
		c = core.New(config.DefaultConfig(), core.WithKernels(basic.All()...))
	}
	return c
}

// Body declares which subsystems are present.
func Body(neck, arm, fork, base bool) {
	Hardware = body.Hardware{Neck: neck, Arm: arm, Fork: fork, Base: base}
	ensure().Body(Hardware)
}

// Reset loads the knowledge base at dir, reading dir/config/alia.yaml
// when present. Any previous session is discarded without saving.
func Reset(dir, robot, label string) error {
	cfg, err := config.Load(filepath.Join(dir, "config", "alia.yaml"))
	if err != nil {
		return err
	}
	if c != nil {
		c.Done(false)
	}
	c = core.New(cfg, core.WithKernels(basic.All()...))
	c.Body(Hardware)
	input, said, Commands = "", "", nil
	return c.Reset(dir, robot, label)
}

// SpIn sets the utterance heard by the next Think.
func SpIn(text string) { input = text }

// Think runs one exchange cycle and returns OK, NotReady, Quit or a
// negative Problem code.
func Think() int {
	x := body.Exchange{Input: input, Sensors: Sensors, Hardware: Hardware}
	input = ""
	code := ensure().Cycle(&x)
	said, Commands = x.Output, x.Named
	return code
}

// SpOut returns what the last Think said and clears it.
func SpOut() string {
	s := said
	said = ""
	return s
}

// Done ends the session, saving learned knowledge when save is set.
func Done(save bool) error {
	if c == nil {
		return nil
	}
	err := c.Done(save)
	Commands = nil
	return err
}
