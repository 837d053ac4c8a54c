package retriever

import "time"

type runConfig struct {
	repeat bool
	delay  time.Duration
}

// RunOption adjusts a Retrieve call.
type RunOption func(*runConfig)

// Once runs the routine a single time instead of looping.
func Once() RunOption {
	return func(c *runConfig) {
		c.repeat = false
	}
}

// Every sets the delay between iterations.
func Every(delay time.Duration) RunOption {
	return func(c *runConfig) {
		c.delay = delay
	}
}
