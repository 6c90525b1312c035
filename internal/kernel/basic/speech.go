// Package basic provides reference kernel pools: speech, a timer, and
// base, neck, arm and fork motion bidding against the actuator arbiter.
package basic

import (
	"strings"

	"alia/internal/kernel"
)

// All returns the reference pools in dispatch order.
func All() []kernel.Kernel {
	return []kernel.Kernel{Speech(), Timer(), Motion()}
}

// Speech handles talking and the run control verbs:
//
//	say    speaks the quoted text or the object word
//	quit   ends the session
//	punt   always fails; used by gate methods to prohibit an action
//	pass   always succeeds
func Speech() *kernel.Pool {
	return kernel.NewPool("speech", "speech").
		Handle("say", say).
		Handle("quit", func(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
			env.Quit()
			return kernel.Success, nil
		}).
		Handle("punt", func(*kernel.Env, *kernel.Call) (kernel.Status, error) {
			return kernel.Failure, nil
		}).
		Handle("pass", func(*kernel.Env, *kernel.Call) (kernel.Status, error) {
			return kernel.Success, nil
		})
}

func say(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
	text := c.Req.Text
	if text == "" {
		text = c.Req.Arg("obj", "")
	}
	if text == "" {
		return kernel.Failure, nil
	}
	env.Say(strings.TrimSpace(text))
	return kernel.Success, nil
}

// Timer handles pause: wait the given number of seconds, default one.
func Timer() *kernel.Pool {
	return kernel.NewPool("timer", "timer").
		Handle("pause", func(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
			secs := c.Req.Num(0, 1)
			if env.Now == nil || env.Now().Sub(c.Started).Seconds() >= secs {
				return kernel.Success, nil
			}
			return kernel.Running, nil
		})
}
