package ripple

import "fmt"

// Push/pull synchronization, kept as its own component because the two-phase
// protocol is the easy-to-get-wrong part of the engine.
//
// Push runs mirror -> owner: every host drains the pending values of its
// mirrors toward the owning hosts, which merge them with the reduction
// operator. Draining resets the mirror to the reduction identity, so a mirror
// only carries data between pushes if relaxation touched it.
//
// Pull runs owner -> mirror: after push every owner holds the fully merged
// canonical value, and broadcasts it verbatim to all hosts mirroring it.
// Push cannot do pull's job (a reducer never overwrites a stale smaller
// value gone canonical elsewhere) and pull cannot do push's (an overwrite
// loses concurrent contributions), which is why both phases exist.

// BuildPushBatch extracts and drains the mirror values this host must send to
// peer. Mirrors still at the identity have nothing pending and are skipped.
func BuildPushBatch(p *Partition, field FieldSync, peer int) []FieldUpdate {
	mirrors := p.MirrorsOwnedBy(peer)
	updates := make([]FieldUpdate, 0, len(mirrors))
	for _, local := range mirrors {
		value := field.Extract(local)
		if value == field.Identity() {
			continue
		}
		updates = append(updates, FieldUpdate{
			GlobalId: p.GlobalID(local),
			Value:    value,
		})
		field.ResetIdentity(local)
	}
	return updates
}

// ApplyPushBatch merges pushed values into the owned canonical copies.
// Deliveries from different peers run concurrently; Merge must be atomic.
func ApplyPushBatch(p *Partition, field FieldSync, updates []FieldUpdate) error {
	for _, u := range updates {
		local, ok := p.LocalIndex(u.GlobalId)
		if !ok || !p.IsOwned(local) {
			return fmt.Errorf("push delivery for vertex %v not owned here", u.GlobalId)
		}
		field.Merge(local, u.Value)
	}
	return nil
}

// BuildPullBatch extracts the canonical values of every owned vertex that
// peer mirrors. Unlike push this never filters: the owner's value is
// authoritative whether or not it changed this round.
func BuildPullBatch(p *Partition, field FieldSync, peer int) []FieldUpdate {
	owned := p.MirroredBy(peer)
	updates := make([]FieldUpdate, len(owned))
	for i, local := range owned {
		updates[i] = FieldUpdate{
			GlobalId: p.GlobalID(local),
			Value:    field.Extract(local),
		}
	}
	return updates
}

// ApplyPullBatch overwrites mirror copies with the owners' canonical values.
func ApplyPullBatch(p *Partition, field FieldSync, updates []FieldUpdate) error {
	for _, u := range updates {
		local, ok := p.LocalIndex(u.GlobalId)
		if !ok {
			return fmt.Errorf("pull delivery for unknown vertex %v", u.GlobalId)
		}
		if p.IsOwned(local) {
			return fmt.Errorf("pull delivery for vertex %v owned here", u.GlobalId)
		}
		field.Overwrite(local, u.Value)
	}
	return nil
}
