package indicator

import (
	"fmt"
	log "log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/apa102"
	"periph.io/x/host/v3"
)

// APA102Strip drives an APA102 chain over SPI.
type APA102Strip struct {
	port spi.PortCloser
	dev  *apa102.Dev
	buf  []byte
}

// OpenAPA102 opens spiPort ("" selects the first available bus) for n LEDs.
// brightness is the 0..31 global brightness of the chip.
func OpenAPA102(spiPort string, n, brightness int) (*APA102Strip, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}

	port, err := spireg.Open(spiPort)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", spiPort, err)
	}
	if err := port.LimitSpeed(4 * physic.MegaHertz); err != nil {
		log.Debug("Failed to limit SPI speed", "err", err)
	}

	opts := apa102.DefaultOpts
	opts.NumPixels = n
	opts.Intensity = uint8(brightness * 255 / 31)

	dev, err := apa102.New(port, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("apa102: %w", err)
	}

	log.Info("LED strip initialized", "port", port.String(), "leds", n, "brightness", brightness)
	return &APA102Strip{port: port, dev: dev, buf: make([]byte, 3*n)}, nil
}

func (s *APA102Strip) Show(pixels []Color) error {
	for i, c := range pixels {
		if 3*i+2 >= len(s.buf) {
			break
		}
		s.buf[3*i], s.buf[3*i+1], s.buf[3*i+2] = c.R, c.G, c.B
	}
	_, err := s.dev.Write(s.buf)
	return err
}

func (s *APA102Strip) Close() error {
	if err := s.dev.Halt(); err != nil {
		log.Warn("Failed to halt LED strip", "err", err)
	}
	return s.port.Close()
}
