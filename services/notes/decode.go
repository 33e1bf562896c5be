package notes

import (
	"sort"

	"github.com/warriorguo/stemflow/types"
)

/**
 * DecodeNotes turns frame and onset activations into notes.
 * Every onset peak above th.Onset starts a note which is sustained while the
 * frame activation stays above th.Frame, allowing short dips. Notes shorter
 * than th.MinNoteLength frames are dropped. Contours, when present, carry
 * ContourBinsPerSemitone bins per pitch and drive the per-frame pitch bend.
 */
func DecodeNotes(frames, onsets, contours [][]float32, th Thresholds) []types.Note {
	n := len(frames)
	if len(onsets) < n {
		n = len(onsets)
	}
	if n == 0 {
		return nil
	}
	pitches := len(frames[0])
	frameDuration := 1 / FrameRate

	used := make([][]bool, n)
	for i := range used {
		used[i] = make([]bool, pitches)
	}

	notes := make([]types.Note, 0)
	for t := 0; t < n; t++ {
		for p := 0; p < pitches && p < len(onsets[t]) && p < len(frames[t]); p++ {
			if used[t][p] || !isOnsetPeak(onsets, t, p, th.Onset) {
				continue
			}

			end := t + 1
			low := 0
			for i := t + 1; i < n; i++ {
				if p >= len(frames[i]) || isOnsetPeak(onsets, i, p, th.Onset) {
					break
				}
				if float64(frames[i][p]) < th.Frame {
					low++
					if low >= energyTolerance {
						break
					}
					continue
				}
				low = 0
				end = i + 1
			}
			if end-t < th.MinNoteLength {
				continue
			}

			amplitude := 0.0
			for i := t; i < end; i++ {
				used[i][p] = true
				amplitude += float64(frames[i][p])
			}
			note := types.Note{
				StartTime: float64(t) * frameDuration,
				Duration:  float64(end-t) * frameDuration,
				Pitch:     p + MidiOffset,
				Amplitude: amplitude / float64(end-t),
			}
			if len(contours) >= end {
				note.PitchBends = pitchBends(contours[t:end], p)
			}
			notes = append(notes, note)
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].StartTime != notes[j].StartTime {
			return notes[i].StartTime < notes[j].StartTime
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return notes
}

func isOnsetPeak(onsets [][]float32, t, p int, threshold float64) bool {
	if p >= len(onsets[t]) {
		return false
	}
	v := onsets[t][p]
	if float64(v) < threshold {
		return false
	}
	if t > 0 && p < len(onsets[t-1]) && onsets[t-1][p] > v {
		return false
	}
	if t+1 < len(onsets) && p < len(onsets[t+1]) && onsets[t+1][p] > v {
		return false
	}
	return true
}

// pitchBends picks the strongest contour bin near the note center per frame, in semitones.
func pitchBends(contours [][]float32, pitch int) []float64 {
	center := pitch*ContourBinsPerSemitone + ContourBinsPerSemitone/2
	bends := make([]float64, len(contours))
	for i, bins := range contours {
		if center >= len(bins) {
			return nil
		}
		best := center
		for b := center - 2; b <= center+2; b++ {
			if b < 0 || b >= len(bins) {
				continue
			}
			if bins[b] > bins[best] {
				best = b
			}
		}
		bends[i] = float64(best-center) / ContourBinsPerSemitone
	}
	return bends
}
