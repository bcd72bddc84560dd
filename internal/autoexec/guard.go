package autoexec

// DefaultConcurrency bounds simultaneous automatic executions when no
// explicit capacity is configured.
const DefaultConcurrency = 3

// Guard is the process-wide counting semaphore bounding concurrent automatic
// executions. TryAcquire never blocks: a step that finds no free slot stays
// pending and is retried on the next scheduling trigger.
type Guard struct {
	permits chan struct{}
}

func NewGuard(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	return &Guard{permits: make(chan struct{}, capacity)}
}

func (g *Guard) TryAcquire() bool {
	select {
	case g.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *Guard) Release() {
	select {
	case <-g.permits:
	default:
		panic("autoexec: release without matching acquire")
	}
}

// InUse reports how many permits are currently held.
func (g *Guard) InUse() int {
	return len(g.permits)
}

// Capacity reports the configured bound.
func (g *Guard) Capacity() int {
	return cap(g.permits)
}
