package tcpstack

// Timer counts virtual milliseconds. Nothing moves unless someone calls Elapse.
type Timer struct {
	elapsed   uint64
	threshold uint64
	running   bool
}

func (t *Timer) Start(threshold uint64) {
	t.threshold = threshold
	t.elapsed = 0
	t.running = true
}

func (t *Timer) Stop() {
	t.running = false
	t.elapsed = 0
}

// Restart keeps the old threshold
func (t *Timer) Restart() {
	t.Start(t.threshold)
}

func (t *Timer) Elapse(ms uint64) {
	if t.running {
		t.elapsed += ms
	}
}

func (t *Timer) Elapsed() uint64 {
	return t.elapsed
}

func (t *Timer) Running() bool {
	return t.running
}

func (t *Timer) Expired() bool {
	return t.running && t.elapsed >= t.threshold
}
