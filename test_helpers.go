package localstore

// simulateCrash stops the heartbeat worker without releasing the lease (for
// testing vanished-peer reclaim).
func (p *Persistence) simulateCrash() {
	p.coordinator.mu.Lock()
	defer p.coordinator.mu.Unlock()

	if p.coordinator.cancel != nil {
		p.coordinator.cancel()
	}
	p.coordinator.state = stateShutDown
}
