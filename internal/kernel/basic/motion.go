package basic

import (
	"math"

	"alia/internal/body"
	"alia/internal/kernel"
)

// Tunables read through Env.Val, overridable per robot.
const (
	valMoveRate    = "move_rate"     // inches per second
	valTurnRate    = "turn_rate"     // degrees per second
	valMoveTol     = "move_tol"      // inches
	valTurnTol     = "turn_tol"      // degrees
	valGesture     = "gesture_steps" // cycles a gesture is held
	valBatteryLow  = "battery_low"   // fraction of full charge
	valGripForce   = "grip_force"
	valNeckRate    = "neck_rate"
	valLiftDefault = "lift_height"
)

// Motion drives the base, neck, arm and fork. Running instances re-bid
// every cycle; a bid that is not renewed lapses.
func Motion() *kernel.Pool {
	var lowBattery, bumped bool
	return kernel.NewPool("motion", "motion").
		Handle("base_move", baseMove).
		Handle("base_turn", baseTurn).
		Handle("stop", stop).
		Handle("look", look).
		Handle("raise", raise).
		Handle("lift", lift).
		Handle("grab", grip(0)).
		Handle("release", grip(1)).
		OnVolunteer(func(env *kernel.Env, sink func(kernel.Note)) {
			s := env.Sensors()
			low := s.Battery > 0 && s.Battery < env.Val(valBatteryLow, 0.2)
			if low && !lowBattery {
				sink(kernel.Note{Subject: "self", Role: "hq", Lex: "tired", Blf: 1})
			}
			lowBattery = low
			if s.Bump && !bumped {
				sink(kernel.Note{Subject: "self", Role: "agt", Lex: "bump", Blf: 1})
			}
			bumped = s.Bump
		})
}

func need(env *kernel.Env, r body.Resource) error {
	if !env.Hardware().Has(r) {
		return kernel.ErrHardwareAbsent
	}
	return nil
}

func sign(dir string, neg ...string) float64 {
	for _, n := range neg {
		if dir == n {
			return -1
		}
	}
	return 1
}

func baseMove(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	if err := need(env, body.Move); err != nil {
		return kernel.Failure, err
	}
	s := env.Sensors()
	if c.Steps == 0 {
		c.Data["from"] = s.Odometer
		c.Data["dist"] = c.Req.Num(0, 12) * sign(c.Req.Arg("dir", "forward"), "backward", "back")
	}
	left := c.Data["dist"] - (s.Odometer - c.Data["from"])
	if math.Abs(left) <= env.Val(valMoveTol, 0.5) {
		return kernel.Success, nil
	}
	env.Bid(body.Move, body.Bid{Target: body.Vec3{X: left}, Rate: env.Val(valMoveRate, 6), Importance: c.Req.Bid})
	return kernel.Running, nil
}

func baseTurn(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	if err := need(env, body.Turn); err != nil {
		return kernel.Failure, err
	}
	s := env.Sensors()
	if c.Steps == 0 {
		c.Data["goal"] = s.MapDir + c.Req.Num(0, 90)*sign(c.Req.Arg("dir", "left"), "right")
	}
	left := math.Remainder(c.Data["goal"]-s.MapDir, 360)
	if math.Abs(left) <= env.Val(valTurnTol, 2) {
		return kernel.Success, nil
	}
	env.Bid(body.Turn, body.Bid{Target: body.Vec3{X: left}, Rate: env.Val(valTurnRate, 30), Importance: c.Req.Bid})
	return kernel.Running, nil
}

func stop(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	if err := need(env, body.Move); err != nil {
		return kernel.Failure, err
	}
	env.Bid(body.Move, body.Bid{Importance: c.Req.Bid})
	env.Bid(body.Turn, body.Bid{Importance: c.Req.Bid})
	env.Bid(body.Skew, body.Bid{Importance: c.Req.Bid})
	return kernel.Success, nil
}

// hold keeps a gesture bid up for the configured number of cycles.
func hold(env *kernel.Env, c *kernel.Call, bids map[body.Resource]body.Bid) (kernel.Status, error) {
	for r := range bids {
		if err := need(env, r); err != nil {
			return kernel.Failure, err
		}
	}
	if float64(c.Steps) >= env.Val(valGesture, 5) {
		return kernel.Success, nil
	}
	for r, b := range bids {
		b.Importance = c.Req.Bid
		env.Bid(r, b)
	}
	return kernel.Running, nil
}

func look(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	pan, tilt := 0.0, 0.0
	switch c.Req.Arg("dir", "") {
	case "left":
		pan = c.Req.Num(0, 45)
	case "right":
		pan = -c.Req.Num(0, 45)
	case "up":
		tilt = c.Req.Num(0, 30)
	case "down":
		tilt = -c.Req.Num(0, 30)
	}
	rate := env.Val(valNeckRate, 60)
	return hold(env, c, map[body.Resource]body.Bid{
		body.Pan:  {Target: body.Vec3{X: pan}, Rate: rate},
		body.Tilt: {Target: body.Vec3{X: tilt}, Rate: rate},
	})
}

func raise(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	return hold(env, c, map[body.Resource]body.Bid{
		body.ArmPos: {Target: body.Vec3{X: 6, Z: c.Req.Num(0, 18)}, Rate: 4},
	})
}

func lift(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	return hold(env, c, map[body.Resource]body.Bid{
		body.Lift: {Target: body.Vec3{X: c.Req.Num(0, env.Val(valLiftDefault, 6))}, Rate: 2},
	})
}

// grip closes (width 0) or opens (width 1) the hand.
func grip(width float64) kernel.Func {
	return func(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
		if width == 0 && c.Steps > 0 && env.Sensors().GripForce > 0 {
			return kernel.Success, nil
		}
		return hold(env, c, map[body.Resource]body.Bid{
			body.GripWidth: {Target: body.Vec3{X: width}, Rate: 1},
			body.GripForce: {Target: body.Vec3{X: env.Val(valGripForce, 0.5) * (1 - width)}, Rate: 1},
		})
	}
}
