package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth     = 16
	wavFormatPCM = 1
	monoChannels = 1
)

// WriteWAV writes mono 16-bit PCM samples to path.
func WriteWAV(path string, samples []int16, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, monoChannels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: monoChannels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}

	return enc.Close()
}

// WriteWAVFloat writes mono float32 samples in [-1, 1] as 16-bit PCM.
func WriteWAVFloat(path string, samples []float32, sampleRate int) error {
	pcm := make([]int16, len(samples))
	for i, x := range samples {
		switch {
		case x > 1:
			x = 1
		case x < -1:
			x = -1
		}
		pcm[i] = int16(x * 32767)
	}
	return WriteWAV(path, pcm, sampleRate)
}

// WAVInfo describes a WAV file header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// ReadWAVInfo decodes the header of a WAV file.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return WAVInfo{}, errors.New("invalid wav")
	}

	dur, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("wav duration: %w", err)
	}

	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}
