package trustanchor

import (
	"time"
)

// Refresh drives the RFC 5011 state machine for name against a freshly
// fetched keyset (the DNSKEY RRset from an active refresh query of the
// anchor's zone), per spec.md §9's transition table. revoked reports,
// for each key currently tracked, whether its DNSKEY carries the
// REVOKE bit in the new keyset.
func (s *Store) Refresh(name string, now time.Time, presentInNewKeyset bool, revoked bool) {
	name = normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	if e == nil {
		if !presentInNewKeyset {
			return
		}
		e = &entry{state: Start}
		s.entries[name] = e
	}

	switch e.state {
	case Start:
		if presentInNewKeyset {
			e.state = AddPend
			e.addedAt = now
			e.holdDownUntil = now.Add(HoldDown)
		}
	case AddPend:
		if !presentInNewKeyset {
			delete(s.entries, name)
			return
		}
		if revoked {
			e.state = Revoked
			e.holdDownUntil = now.Add(HoldDown)
		} else if !now.Before(e.holdDownUntil) {
			e.state = Valid
		}
	case Valid:
		switch {
		case revoked:
			e.state = Revoked
			e.holdDownUntil = now.Add(HoldDown)
		case !presentInNewKeyset:
			e.state = Missing
			e.holdDownUntil = now.Add(HoldDown)
		}
	case Missing:
		switch {
		case revoked:
			e.state = Revoked
			e.holdDownUntil = now.Add(HoldDown)
		case presentInNewKeyset:
			e.state = Valid
		}
	case Revoked:
		if !now.Before(e.holdDownUntil) {
			e.state = Removed
		}
	case Removed:
		delete(s.entries, name)
	}
}
