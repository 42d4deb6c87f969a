package engine

import "context"

// Recover replays every registered peer channel's committed commands
// through the processor, re-driving any in-flight payment progress the
// engine did not get to finish before a restart (spec.md §4.C "Crash
// recovery"). Call once, after AddPeer has registered every known peer and
// before accepting new traffic.
func (e *Engine) Recover(ctx context.Context) error {
	return e.submit(func() error {
		for _, ps := range e.allPeerStates() {
			if err := ps.channel.Replay(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
