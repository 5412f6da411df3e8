package audio

import (
	"context"
	"fmt"

	"rsbp/pkg/audioconv"
)

// TranscodeToWAV decodes any supported audio file and rewrites it as a
// mono 16-bit 16 kHz WAV at out.
func TranscodeToWAV(ctx context.Context, in, out string) error {
	x, err := audioconv.DecodeFile(ctx, in, audioconv.Options{})
	if err != nil {
		return fmt.Errorf("decode %s: %w", in, err)
	}
	if len(x) == 0 {
		return fmt.Errorf("decode %s: no samples", in)
	}
	return WriteWAVFloat(out, x, audioconv.TargetRate)
}
