package zone

import (
	"github.com/pondem87/kraken/internal/model"
)

// Active returns copies of the active zones in creation order.
func (t *Tracker) Active() []model.Zone {
	var out []model.Zone
	for _, e := range t.zones {
		if e.z.Status == model.ZoneActive {
			out = append(out, e.z)
		}
	}
	return out
}

// All returns copies of every zone ever created, in creation order.
func (t *Tracker) All() []model.Zone {
	out := make([]model.Zone, len(t.zones))
	for i, e := range t.zones {
		out[i] = e.z
	}
	return out
}

// Get returns a zone by id.
func (t *Tracker) Get(id string) (model.Zone, bool) {
	e, ok := t.byID[id]
	if !ok {
		return model.Zone{}, false
	}
	return e.z, true
}

// Transitions returns the transition log, oldest first. The returned slice
// must not be modified.
func (t *Tracker) Transitions() []model.ZoneTransition {
	return t.log[:len(t.log):len(t.log)]
}

// ZoneAt returns the active zone of the given kind containing price. An
// empty kind matches both. When zones overlap the configured precedence
// decides.
func (t *Tracker) ZoneAt(price float64, kind model.ZoneKind) (model.Zone, bool) {
	var best *entry
	for _, e := range t.zones {
		if !t.candidate(e, kind) || !e.z.Contains(price) {
			continue
		}
		if best == nil || t.prefer(e, best) {
			best = e
		}
	}
	if best == nil {
		return model.Zone{}, false
	}
	return best.z, true
}

// prefer reports whether a beats b. Zones are visited oldest first, so
// "newer" simply means visited later.
func (t *Tracker) prefer(a, b *entry) bool {
	switch t.cfg.Precedence {
	case Oldest:
		return false
	case HigherTimeframe:
		return a.z.SourceTF >= b.z.SourceTF
	}
	return true
}

// NearestAbove returns the active zone of the kind lying entirely above
// price with the lowest lower bound.
func (t *Tracker) NearestAbove(price float64, kind model.ZoneKind) (model.Zone, bool) {
	var best *entry
	for _, e := range t.zones {
		if !t.candidate(e, kind) || e.z.Low <= price {
			continue
		}
		if best == nil || e.z.Low < best.z.Low {
			best = e
		}
	}
	if best == nil {
		return model.Zone{}, false
	}
	return best.z, true
}

// NearestBelow returns the active zone of the kind lying entirely below
// price with the highest upper bound.
func (t *Tracker) NearestBelow(price float64, kind model.ZoneKind) (model.Zone, bool) {
	var best *entry
	for _, e := range t.zones {
		if !t.candidate(e, kind) || e.z.High >= price {
			continue
		}
		if best == nil || e.z.High > best.z.High {
			best = e
		}
	}
	if best == nil {
		return model.Zone{}, false
	}
	return best.z, true
}

func (t *Tracker) candidate(e *entry, kind model.ZoneKind) bool {
	return e.z.Status == model.ZoneActive && (kind == "" || e.z.Kind == kind)
}

// Snapshot is a read-only copy of the tracker for strategies and sinks.
type Snapshot struct {
	Zones       []model.Zone           `json:"zones"`
	Transitions []model.ZoneTransition `json:"transitions,omitempty"` // this tick only
	precedence  Precedence
}

// Snapshot copies every zone together with the given transitions.
func (t *Tracker) Snapshot(transitions []model.ZoneTransition) Snapshot {
	return Snapshot{Zones: t.All(), Transitions: transitions, precedence: t.cfg.Precedence}
}

// View wraps a snapshot in a tracker so the query methods can be used
// without touching live state.
func (s Snapshot) View() *Tracker {
	t := &Tracker{
		cfg:  Config{Precedence: s.precedence},
		byID: make(map[string]*entry, len(s.Zones)),
	}
	for _, z := range s.Zones {
		e := &entry{z: z}
		t.zones = append(t.zones, e)
		t.byID[z.ID] = e
	}
	return t
}

// MitigatedNow returns zones mitigated by the transitions carried in s.
func (s Snapshot) MitigatedNow() []model.Zone {
	var out []model.Zone
	for _, tr := range s.Transitions {
		if tr.To != model.ZoneMitigated {
			continue
		}
		for _, z := range s.Zones {
			if z.ID == tr.ZoneID {
				out = append(out, z)
			}
		}
	}
	return out
}
