// Package notify plays short acknowledgement cues when recording starts and
// stops, so the user knows the press registered.
package notify

import (
	"fmt"
	log "log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const sampleRate = beep.SampleRate(44100)

var cueFormat = beep.Format{SampleRate: sampleRate, NumChannels: 2, Precision: 2}

// Cues holds pre-rendered start and stop sounds.
type Cues struct {
	start *beep.Buffer
	stop  *beep.Buffer
}

// New initializes the speaker and prepares both cues. For each cue a
// start.{wav,mp3} or stop.{wav,mp3} file in dir is used when present,
// otherwise a generated tone.
func New(dir string) (*Cues, error) {
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}

	c := &Cues{
		start: loadCue(dir, "start", 880),
		stop:  loadCue(dir, "stop", 660),
	}
	log.Info("Audio cues enabled", "dir", dir)
	return c, nil
}

// RecordStart plays the start cue without waiting for it.
func (c *Cues) RecordStart() { play(c.start) }

// RecordStop plays the stop cue without waiting for it.
func (c *Cues) RecordStop() { play(c.stop) }

func play(b *beep.Buffer) {
	speaker.Play(b.Streamer(0, b.Len()))
}

func loadCue(dir, name string, freq float64) *beep.Buffer {
	if dir != "" {
		for _, ext := range []string{".wav", ".mp3"} {
			path := filepath.Join(dir, name+ext)
			b, err := decodeFile(path)
			if err == nil {
				return b
			}
			if !os.IsNotExist(err) {
				log.Warn("Failed to load cue, using tone", "path", path, "err", err)
			}
		}
	}
	return toneBuffer(freq, 120*time.Millisecond)
}

func decodeFile(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	if filepath.Ext(path) == ".mp3" {
		s, format, err = mp3.Decode(f)
	} else {
		s, format, err = wav.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	defer s.Close()

	buf := beep.NewBuffer(cueFormat)
	if format.SampleRate != sampleRate {
		buf.Append(beep.Resample(4, format.SampleRate, sampleRate, s))
	} else {
		buf.Append(s)
	}
	return buf, nil
}

// toneBuffer renders a sine tone with a short linear fade at both ends.
func toneBuffer(freq float64, d time.Duration) *beep.Buffer {
	total := sampleRate.N(d)
	fade := sampleRate.N(10 * time.Millisecond)
	pos := 0

	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for i := range samples {
			if pos >= total {
				break
			}
			amp := 0.3
			if pos < fade {
				amp *= float64(pos) / float64(fade)
			} else if total-pos < fade {
				amp *= float64(total-pos) / float64(fade)
			}
			v := amp * math.Sin(2*math.Pi*freq*float64(pos)/float64(sampleRate))
			samples[i] = [2]float64{v, v}
			pos++
			n++
		}
		return n, true
	})

	buf := beep.NewBuffer(cueFormat)
	buf.Append(tone)
	return buf
}
