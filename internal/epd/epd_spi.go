//go:build linux

package epd

import (
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"boxdisplay/internal/convert"
	appLog "boxdisplay/internal/log"
)

// BCM pin numbers of the Waveshare e-Paper HAT (DEV_Config.h).
const (
	bcmRST  = 17
	bcmDC   = 25
	bcmCS   = 8
	bcmBUSY = 24
	bcmPWR  = 18
)

const (
	spiMaxHz = 4 * physic.MegaHertz
	// spidev rejects transfers above its buffer size (4096 by default).
	spiChunk = 4096
	// busyTimeout bounds every wait on the BUSY line. A full refresh takes
	// about 4s on this panel.
	busyTimeout = 30 * time.Second
)

var errBusyTimeout = errors.New("epd: busy wait timed out")

// dev is the Go equivalent of the C DEV_* layer: the SPI connection and the
// GPIO lines used by the HAT.
type dev struct {
	port spi.PortCloser
	conn spi.Conn

	rst  gpio.PinOut
	dc   gpio.PinOut
	cs   gpio.PinOut
	pwr  gpio.PinOut
	busy gpio.PinIn
}

// spiDriver implements Driver for the 7.5" V2 panel over SPI.
type spiDriver struct {
	dev    *dev
	width  int
	height int
}

// OpenSPI initializes periph.io, opens the default SPI port, configures the
// HAT pins and powers the panel on. The panel registers are programmed
// lazily by each refresh.
func OpenSPI(width, height int) (Driver, error) {
	if width != convert.PanelWidth || height != convert.PanelHeight {
		return nil, fmt.Errorf("epd: spi driver supports %dx%d only, got %dx%d",
			convert.PanelWidth, convert.PanelHeight, width, height)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	// On Raspberry Pi the default port is /dev/spidev0.0.
	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}
	conn, err := port.Connect(spiMaxHz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	d := &dev{port: port, conn: conn}
	outs := []struct {
		num   int
		level gpio.Level
		dst   *gpio.PinOut
	}{
		{bcmRST, gpio.High, &d.rst},
		{bcmDC, gpio.Low, &d.dc},
		{bcmCS, gpio.High, &d.cs},
		{bcmPWR, gpio.High, &d.pwr},
	}
	for _, o := range outs {
		p, err := gpioOut(o.num, o.level)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		*o.dst = p
	}
	d.busy, err = gpioIn(bcmBUSY)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	appLog.Info("epd: spi driver ready", "width", width, "height", height)
	return &spiDriver{dev: d, width: width, height: height}, nil
}

func gpioOut(num int, level gpio.Level) (gpio.PinOut, error) {
	name := fmt.Sprintf("GPIO%d", num)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %s not found", name)
	}
	if err := p.Out(level); err != nil {
		return nil, fmt.Errorf("epd: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

func gpioIn(num int) (gpio.PinIn, error) {
	name := fmt.Sprintf("GPIO%d", num)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %s not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: gpio %s In failed: %w", name, err)
	}
	return p, nil
}

func (d *spiDriver) Name() string { return NameSPI }

// --- DEV_* equivalents ---

func delayMs(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (d *dev) reset() {
	_ = d.rst.Out(gpio.High)
	delayMs(20)
	_ = d.rst.Out(gpio.Low)
	delayMs(2)
	_ = d.rst.Out(gpio.High)
	delayMs(20)
}

func (d *dev) sendCommand(reg byte) error {
	_ = d.dc.Out(gpio.Low)
	_ = d.cs.Out(gpio.Low)
	err := d.conn.Tx([]byte{reg}, nil)
	_ = d.cs.Out(gpio.High)
	return err
}

// sendData writes data with DC high, chunked to the spidev buffer size.
func (d *dev) sendData(data ...byte) error {
	_ = d.dc.Out(gpio.High)
	_ = d.cs.Out(gpio.Low)
	defer d.cs.Out(gpio.High)
	for len(data) > 0 {
		n := len(data)
		if n > spiChunk {
			n = spiChunk
		}
		if err := d.conn.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// cmd sends a command followed by its parameter bytes.
func (d *dev) cmd(reg byte, params ...byte) error {
	if err := d.sendCommand(reg); err != nil {
		return fmt.Errorf("epd: command %#02x: %w", reg, err)
	}
	if len(params) == 0 {
		return nil
	}
	if err := d.sendData(params...); err != nil {
		return fmt.Errorf("epd: data for %#02x: %w", reg, err)
	}
	return nil
}

// waitIdle polls BUSY (low = busy) after a GET_STATUS command.
func (d *dev) waitIdle() error {
	deadline := time.Now().Add(busyTimeout)
	for {
		if err := d.sendCommand(0x71); err != nil {
			return err
		}
		if d.busy.Read() == gpio.High {
			break
		}
		if time.Now().After(deadline) {
			return errBusyTimeout
		}
		delayMs(20)
	}
	delayMs(20)
	return nil
}

// --- EPD_7IN5_V2_* sequences ---

// initFull programs the panel for a full (flashing) update.
func (d *spiDriver) initFull() error {
	dv := d.dev
	dv.reset()

	steps := []struct {
		reg    byte
		params []byte
	}{
		{0x01, []byte{0x07, 0x07, 0x3F, 0x3F}}, // power setting: VGH/VGL 20V, VDH/VDL 15V
		{0x06, []byte{0x17, 0x17, 0x28, 0x17}}, // booster soft start
	}
	for _, s := range steps {
		if err := dv.cmd(s.reg, s.params...); err != nil {
			return err
		}
	}

	if err := dv.cmd(0x04); err != nil { // power on
		return err
	}
	delayMs(100)
	if err := dv.waitIdle(); err != nil {
		return err
	}

	steps = []struct {
		reg    byte
		params []byte
	}{
		{0x00, []byte{0x1F}},                   // panel setting: KW mode
		{0x61, []byte{0x03, 0x20, 0x01, 0xE0}}, // resolution 800x480
		{0x15, []byte{0x00}},                   // dual SPI off
		{0x50, []byte{0x10, 0x07}},             // VCOM and data interval
		{0x60, []byte{0x22}},                   // TCON
	}
	for _, s := range steps {
		if err := dv.cmd(s.reg, s.params...); err != nil {
			return err
		}
	}
	return nil
}

// initPart programs the panel for a partial (fast, no flash) update.
func (d *spiDriver) initPart() error {
	dv := d.dev
	dv.reset()

	if err := dv.cmd(0x00, 0x1F); err != nil {
		return err
	}
	if err := dv.cmd(0x04); err != nil {
		return err
	}
	delayMs(100)
	if err := dv.waitIdle(); err != nil {
		return err
	}
	if err := dv.cmd(0xE0, 0x02); err != nil { // cascade setting
		return err
	}
	return dv.cmd(0xE5, 0x6E) // force temperature
}

func (d *spiDriver) turnOnDisplay() error {
	if err := d.dev.cmd(0x12); err != nil {
		return err
	}
	delayMs(100)
	return d.dev.waitIdle()
}

func (d *spiDriver) pack(img *image.Gray) ([]byte, error) {
	return convert.PackGray(img, d.width, d.height)
}

// FullRefresh writes OLD data (white=1) to 0x10 and NEW data (black=1) to
// 0x13, then refreshes.
func (d *spiDriver) FullRefresh(img *image.Gray) error {
	plane, err := d.pack(img)
	if err != nil {
		return err
	}
	if err := d.initFull(); err != nil {
		return err
	}
	if err := d.dev.cmd(0x10, plane...); err != nil {
		return err
	}
	convert.Invert(plane)
	if err := d.dev.cmd(0x13, plane...); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

// PartialRefresh updates the byte-aligned window covering rect.
func (d *spiDriver) PartialRefresh(img *image.Gray, rect image.Rectangle) error {
	plane, err := d.pack(img)
	if err != nil {
		return err
	}
	rect = rect.Intersect(image.Rect(0, 0, d.width, d.height))
	if rect.Empty() {
		return nil
	}
	window, r := convert.Window(plane, d.width, rect)

	if err := d.initPart(); err != nil {
		return err
	}
	dv := d.dev
	if err := dv.cmd(0x50, 0xA9, 0x07); err != nil {
		return err
	}
	if err := dv.cmd(0x91); err != nil { // enter partial mode
		return err
	}
	xEnd, yEnd := r.Max.X-1, r.Max.Y-1
	if err := dv.cmd(0x90,
		byte(r.Min.X>>8), byte(r.Min.X),
		byte(xEnd>>8), byte(xEnd),
		byte(r.Min.Y>>8), byte(r.Min.Y),
		byte(yEnd>>8), byte(yEnd),
		0x01,
	); err != nil {
		return err
	}
	convert.Invert(window)
	if err := dv.cmd(0x13, window...); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

func (d *spiDriver) Clear() error {
	if err := d.initFull(); err != nil {
		return err
	}
	size := convert.Stride(d.width) * d.height
	white := make([]byte, size)
	for i := range white {
		white[i] = 0xFF
	}
	if err := d.dev.cmd(0x10, white...); err != nil {
		return err
	}
	if err := d.dev.cmd(0x13, make([]byte, size)...); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

func (d *spiDriver) Sleep() error {
	dv := d.dev
	if err := dv.cmd(0x50, 0xF7); err != nil {
		return err
	}
	if err := dv.cmd(0x02); err != nil { // power off
		return err
	}
	if err := dv.waitIdle(); err != nil {
		return err
	}
	if err := dv.cmd(0x07, 0xA5); err != nil { // deep sleep
		return err
	}
	delayMs(2000)
	return nil
}

// Close drops panel power and releases the SPI port (DEV_Module_Exit).
func (d *spiDriver) Close() error {
	_ = d.dev.rst.Out(gpio.Low)
	_ = d.dev.dc.Out(gpio.Low)
	_ = d.dev.pwr.Out(gpio.Low)
	return d.dev.port.Close()
}
