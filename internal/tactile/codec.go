package tactile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecodeStateEvent parses one JSON state event as carried by UDP datagrams,
// Kafka message values, and JSONL capture lines.
func DecodeStateEvent(data []byte) (StateEvent, error) {
	var ev StateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StateEvent{}, fmt.Errorf("failed to unmarshal state event: %w", err)
	}
	if ev.TS.IsZero() {
		return StateEvent{}, fmt.Errorf("state event missing timestamp")
	}
	if len(ev.Readings) == 0 {
		return StateEvent{}, fmt.Errorf("state event carries no readings")
	}
	return ev, nil
}

// EncodeStateEvent renders a state event as a single JSON document.
func EncodeStateEvent(ev StateEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state event: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a contact snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (ContactSnapshot, error) {
	var snap ContactSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ContactSnapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// EncodeSnapshot renders a contact snapshot as a single JSON document, the
// payload published to the contact topic and the SSE stream.
func EncodeSnapshot(snap ContactSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// ParseLine parses one serial frame of the form
//
//	name,unix_micros,v0,v1,...
//
// into a single-reading state event. Firmware emits one line per sensor per
// sample, so multi-sensor bundling never happens on the serial path.
func ParseLine(line string) (StateEvent, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) < 3 {
		return StateEvent{}, fmt.Errorf("invalid line format: %q, expected name,unix_micros,values...", line)
	}

	name := strings.TrimSpace(segments[0])
	if name == "" {
		return StateEvent{}, fmt.Errorf("invalid line: empty sensor name")
	}

	micros, err := strconv.ParseInt(strings.TrimSpace(segments[1]), 10, 64)
	if err != nil {
		return StateEvent{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	values := make([]float64, 0, len(segments)-2)
	for _, seg := range segments[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(seg), 64)
		if err != nil {
			return StateEvent{}, fmt.Errorf("failed to parse value %q: %w", seg, err)
		}
		values = append(values, v)
	}

	return StateEvent{
		TS:       time.UnixMicro(micros).UTC(),
		Readings: []SensorReading{{Name: name, Values: values}},
	}, nil
}

// FormatLine renders a reading back into the serial frame format. The
// generator uses it to produce firmware-style fixtures.
func FormatLine(ts time.Time, name string, values []float64) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(ts.UnixMicro(), 10))
	for _, v := range values {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
