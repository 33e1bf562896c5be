package codec

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/warriorguo/stemflow/types"
)

const (
	ticksPerQuarter = 480
	drumChannel     = 9
	// PitchBendRange is the bend range in semitones assumed by the synthesizer.
	PitchBendRange = 2.0
	DefaultBPM     = 120.0
)

// Track is one stem rendered as a MIDI track.
type Track struct {
	Name    string
	Program uint8
	Drums   bool
	Notes   []types.Note
}

type event struct {
	tick  uint32
	order int
	msg   midi.Message
}

/**
 * WriteMIDI writes a type 1 standard MIDI file: a tempo track followed by one
 * track per element of tracks. Pitch bends are only written for tracks whose
 * notes do not overlap, since a bend applies to the whole channel.
 */
func WriteMIDI(path string, tracks []Track, bpm float64) error {
	if len(tracks) == 0 {
		return errors.BadRequestf("no tracks")
	}
	if bpm <= 0 {
		bpm = DefaultBPM
	}

	clock := smf.MetricTicks(ticksPerQuarter)
	ticksPerSecond := float64(clock.Ticks4th()) * bpm / 60

	s := smf.New()
	s.TimeFormat = clock

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return errors.Trace(err)
	}

	channel := uint8(0)
	for _, t := range tracks {
		ch := channel
		if t.Drums {
			ch = drumChannel
		} else {
			channel++
			if channel == drumChannel {
				channel++
			}
			channel %= 16
		}
		if err := s.Add(buildTrack(t, ch, ticksPerSecond)); err != nil {
			return errors.Annotatef(err, "track %s", t.Name)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Annotatef(err, "create midi directory for %s", path)
	}
	return errors.Annotatef(s.WriteFile(path), "write midi %s", path)
}

func buildTrack(t Track, ch uint8, ticksPerSecond float64) smf.Track {
	toTick := func(sec float64) uint32 {
		if sec <= 0 {
			return 0
		}
		return uint32(math.Round(sec * ticksPerSecond))
	}

	bends := !overlapping(t.Notes)
	events := make([]event, 0, len(t.Notes)*2)
	for _, n := range t.Notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			continue
		}
		key := uint8(n.Pitch)
		start := toTick(n.StartTime)
		end := toTick(n.StartTime + n.Duration)
		if end <= start {
			end = start + 1
		}
		// note offs sort before note ons on the same tick
		events = append(events,
			event{tick: start, order: 2, msg: midi.NoteOn(ch, key, velocity(n.Amplitude))},
			event{tick: end, order: 0, msg: midi.NoteOff(ch, key)},
		)
		if bends && len(n.PitchBends) > 0 {
			step := n.Duration / float64(len(n.PitchBends))
			last := int16(0)
			for i, b := range n.PitchBends {
				v := bendValue(b)
				if i > 0 && v == last {
					continue
				}
				last = v
				events = append(events, event{tick: toTick(n.StartTime + float64(i)*step), order: 1, msg: midi.Pitchbend(ch, v)})
			}
			events = append(events, event{tick: end, order: 1, msg: midi.Pitchbend(ch, 0)})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].order < events[j].order
	})

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(t.Name))
	if !t.Drums {
		tr.Add(0, midi.ProgramChange(ch, t.Program))
	}
	prev := uint32(0)
	for _, e := range events {
		tr.Add(e.tick-prev, e.msg)
		prev = e.tick
	}
	tr.Close(0)
	return tr
}

func velocity(amplitude float64) uint8 {
	v := int(math.Round(amplitude * 127))
	if v < 1 {
		v = 1
	}
	if v > 127 {
		v = 127
	}
	return uint8(v)
}

func bendValue(semitones float64) int16 {
	v := semitones / PitchBendRange * 8191
	if v > 8191 {
		v = 8191
	}
	if v < -8192 {
		v = -8192
	}
	return int16(math.Round(v))
}

func overlapping(notes []types.Note) bool {
	sorted := append([]types.Note(nil), notes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		if sorted[i].StartTime < prev.StartTime+prev.Duration {
			return true
		}
	}
	return false
}
