package model

// Clone returns a copy that shares no mutable state with r.
func (r Robot) Clone() Robot {
	if r.Pending != nil {
		p := *r.Pending
		r.Pending = &p
	}
	if r.Telemetry != nil {
		t := r.Telemetry.Clone()
		r.Telemetry = &t
	}
	return r
}

// Clone returns a copy that shares no mutable state with t.
func (t Telemetry) Clone() Telemetry {
	if t.Battery != nil {
		b := *t.Battery
		t.Battery = &b
	}
	if t.Pose != nil {
		p := *t.Pose
		t.Pose = &p
	}
	if t.Velocity != nil {
		v := *t.Velocity
		t.Velocity = &v
	}
	return t
}

// Clone returns a copy that shares no mutable state with t.
func (t Table) Clone() Table {
	if t.HeadCount != nil {
		hc := *t.HeadCount
		t.HeadCount = &hc
	}
	return t
}

// Clone returns a copy that shares no mutable state with o.
func (o Order) Clone() Order {
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	if o.CompletedAt != nil {
		c := *o.CompletedAt
		o.CompletedAt = &c
	}
	return o
}

// Clone returns a copy that shares no mutable state with h.
func (h HistoryEntry) Clone() HistoryEntry {
	if h.EndedAt != nil {
		e := *h.EndedAt
		h.EndedAt = &e
	}
	return h
}
