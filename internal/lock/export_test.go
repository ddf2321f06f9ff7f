package lock

// SetAliveProbe replaces the process liveness probe so tests can simulate
// live and dead lock holders without spawning processes.
func (l *Lock) SetAliveProbe(probe func(pid int) bool) {
	l.alive = probe
}
