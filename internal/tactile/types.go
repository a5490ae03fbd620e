// Package tactile defines the wire-level types shared by the ingest sources,
// the merger, and the publish sinks: state events coming in, contact
// snapshots going out.
package tactile

import "time"

// SensorReading is one named sensor's taxel values inside a state event.
// Values are raw intensity counts; position i always refers to the same
// physical taxel.
type SensorReading struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// StateEvent is one ingest message: a shared timestamp plus the readings of
// every sensor bundled into the message. A single event may carry several
// sensors; the demux calls the merger once per reading.
type StateEvent struct {
	TS       time.Time       `json:"ts"`
	Readings []SensorReading `json:"readings"`
}

// ContactState summarizes one sensor inside a snapshot.
type ContactState struct {
	Name      string `json:"name"`
	Fresh     bool   `json:"fresh"`
	AgeMS     int64  `json:"age_ms"`
	InContact bool   `json:"in_contact"`
	// Taxels holds the per-taxel contact vector when taxel granularity is
	// configured; nil in sensor granularity.
	Taxels []bool `json:"taxels,omitempty"`
	// Values is a copy of the last reading. Only fresh sensors carry values;
	// stale sensors report none so old data cannot pass for current contact.
	Values []float64 `json:"values,omitempty"`
}

// ContactCount returns the number of taxels in contact, or 1/0 in sensor
// granularity where no per-taxel vector is present.
func (c ContactState) ContactCount() int {
	if c.Taxels == nil {
		if c.InContact {
			return 1
		}
		return 0
	}
	n := 0
	for _, on := range c.Taxels {
		if on {
			n++
		}
	}
	return n
}

// ContactSnapshot is a consolidated point-in-time read of every sensor the
// merger has ever seen, ordered by sensor name. It is a value with no
// back-references into merger state; holders may keep it indefinitely.
type ContactSnapshot struct {
	TS       time.Time      `json:"ts"`
	Contacts []ContactState `json:"contacts"`
}

// ActiveContacts counts the sensors currently reporting contact.
func (s ContactSnapshot) ActiveContacts() int {
	n := 0
	for _, c := range s.Contacts {
		if c.InContact {
			n++
		}
	}
	return n
}

// Sensor returns the contact state for name, if present.
func (s ContactSnapshot) Sensor(name string) (ContactState, bool) {
	for _, c := range s.Contacts {
		if c.Name == name {
			return c, true
		}
	}
	return ContactState{}, false
}
