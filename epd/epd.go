package epd

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	cmdSoftwareReset         byte = 0x12
	cmdDriverOutputControl   byte = 0x01
	cmdDataEntryMode         byte = 0x11
	cmdSetRamXStartEndPos    byte = 0x44
	cmdSetRamYStartEndPos    byte = 0x45
	cmdSetRamXCounter        byte = 0x4E
	cmdSetRamYCounter        byte = 0x4F
	cmdBorderWaveformControl byte = 0x3C
	cmdDisplayUpdateControl1 byte = 0x21
	cmdDisplayUpdateControl2 byte = 0x22
	cmdWriteRAM              byte = 0x24
	cmdWriteBaseRAM          byte = 0x26
	cmdEnterDeepSleep        byte = 0x10

	dataEntryX                       byte = 0x03
	displayUpdateSequence            byte = 0x20
	displayUpdateSequenceNormalMode  byte = 0xF7
	displayUpdateSequencePartialMode byte = 0xFF

	borderWaveformFull    byte = 0x05
	borderWaveformPartial byte = 0x80
)

// Native panel geometry. The controller addresses the panel in portrait.
const (
	Width  = 122
	Height = 250
)

// Mode selects the waveform used by the next refresh.
type Mode int

const (
	// FullUpdate resets every pixel before drawing. Slow, no ghosting.
	FullUpdate Mode = iota
	// PartialUpdate only drives pixels that differ from the base RAM.
	PartialUpdate
)

func (m Mode) String() string {
	switch m {
	case FullUpdate:
		return "full"
	case PartialUpdate:
		return "partial"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type DisplayConfig struct {
	DCPin   string
	CSPin   string
	RSTPin  string
	BUSYPin string

	SPIPort      string
	SPIFrequency physic.Frequency
	SPIMode      spi.Mode

	ResetHoldTime  time.Duration
	ResetDelayTime time.Duration
	BusyPollTime   time.Duration
	RefreshTimeout time.Duration

	OnBusyStateChange func(busy bool)
}

func DefaultConfig() DisplayConfig {
	return DisplayConfig{
		DCPin:   "GPIO25",
		CSPin:   "GPIO8",
		RSTPin:  "GPIO17",
		BUSYPin: "GPIO24",

		SPIPort:      "",
		SPIFrequency: 1 * physic.MegaHertz,
		SPIMode:      spi.Mode0,

		ResetHoldTime:  20 * time.Millisecond,
		ResetDelayTime: 2 * time.Millisecond,
		BusyPollTime:   10 * time.Millisecond,
		RefreshTimeout: 10 * time.Second,

		OnBusyStateChange: nil,
	}
}

// Pins groups the GPIO lines wired to the panel.
type Pins struct {
	DC   gpio.PinOut
	CS   gpio.PinOut
	RST  gpio.PinOut
	BUSY gpio.PinIn
}

type Display struct {
	port   io.Closer
	conn   spi.Conn
	dc     gpio.PinOut
	cs     gpio.PinOut
	rst    gpio.PinOut
	busy   gpio.PinIn
	width  int
	height int
	mode   Mode
	config DisplayConfig
}

func New() (*Display, error) {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig opens the SPI port and GPIO lines named in config. The panel
// is not initialized; call Init before drawing.
func NewWithConfig(config DisplayConfig) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init failed: %w", err)
	}

	port, err := spireg.Open(config.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("SPI open failed: %w", err)
	}

	conn, err := port.Connect(config.SPIFrequency, config.SPIMode, 8)
	if err != nil {
		if closeErr := port.Close(); closeErr != nil {
			return nil, fmt.Errorf("SPI connect failed and port close failed: %w", closeErr)
		}
		return nil, fmt.Errorf("SPI connect failed: %w", err)
	}

	dc := gpioreg.ByName(config.DCPin)
	cs := gpioreg.ByName(config.CSPin)
	rst := gpioreg.ByName(config.RSTPin)
	busy := gpioreg.ByName(config.BUSYPin)

	if dc == nil || cs == nil || rst == nil || busy == nil {
		if closeErr := port.Close(); closeErr != nil {
			return nil, fmt.Errorf("GPIO init failed and port close failed: %w", closeErr)
		}
		return nil, errors.New("failed to initialize GPIO pins")
	}

	d, err := NewWithConn(conn, Pins{DC: dc, CS: cs, RST: rst, BUSY: busy}, config)
	if err != nil {
		port.Close()
		return nil, err
	}
	d.port = port
	return d, nil
}

// NewWithConn builds a Display on an already connected SPI conn and pins.
// Close will not release the underlying port.
func NewWithConn(conn spi.Conn, pins Pins, config DisplayConfig) (*Display, error) {
	if conn == nil {
		return nil, errors.New("nil SPI connection")
	}
	if pins.DC == nil || pins.CS == nil || pins.RST == nil || pins.BUSY == nil {
		return nil, errors.New("failed to initialize GPIO pins")
	}
	return &Display{
		conn:   conn,
		dc:     pins.DC,
		cs:     pins.CS,
		rst:    pins.RST,
		busy:   pins.BUSY,
		width:  Width,
		height: Height,
		mode:   FullUpdate,
		config: config,
	}, nil
}

func (d *Display) reset() error {
	if err := d.setPin(d.rst, gpio.High); err != nil {
		return err
	}
	time.Sleep(d.config.ResetHoldTime)

	if err := d.setPin(d.rst, gpio.Low); err != nil {
		return err
	}
	time.Sleep(d.config.ResetDelayTime)

	if err := d.setPin(d.rst, gpio.High); err != nil {
		return err
	}
	time.Sleep(d.config.ResetHoldTime)
	return nil
}

func (d *Display) waitBusy() error {
	if d.config.OnBusyStateChange != nil {
		d.config.OnBusyStateChange(true)
		defer d.config.OnBusyStateChange(false)
	}

	deadline := time.Now().Add(d.config.RefreshTimeout)
	for time.Now().Before(deadline) {
		if d.busy.Read() == gpio.Low {
			return nil
		}
		time.Sleep(d.config.BusyPollTime)
	}
	return errors.New("timeout waiting for display to be ready")
}

func (d *Display) sendDataBulk(data []byte) error {
	if err := d.setPin(d.dc, gpio.High); err != nil {
		return fmt.Errorf("DC pin set failed: %w", err)
	}
	if err := d.setPin(d.cs, gpio.Low); err != nil {
		return fmt.Errorf("CS pin set failed: %w", err)
	}
	if err := d.conn.Tx(data, nil); err != nil {
		return fmt.Errorf("bulk data transmission failed: %w", err)
	}
	return d.setPin(d.cs, gpio.High)
}

func (d *Display) setPin(pin gpio.PinOut, level gpio.Level) error {
	if err := pin.Out(level); err != nil {
		return fmt.Errorf("failed to set pin: %w", err)
	}
	return nil
}

// Init prepares the controller for refreshes in the given mode. FullUpdate
// performs a hardware and software reset; PartialUpdate keeps the RAM
// contents so the last frame acts as the base for the next diff.
func (d *Display) Init(mode Mode) error {
	var err error
	switch mode {
	case FullUpdate:
		err = d.initFull()
	case PartialUpdate:
		err = d.initPartial()
	default:
		return fmt.Errorf("unsupported update mode %v", mode)
	}
	if err != nil {
		return fmt.Errorf("%v init failed: %w", mode, err)
	}
	d.mode = mode
	return nil
}

func (d *Display) initFull() error {
	if err := d.reset(); err != nil {
		return err
	}
	if err := d.waitBusy(); err != nil {
		return err
	}

	if err := d.sendCommand(cmdSoftwareReset); err != nil {
		return err
	}
	if err := d.waitBusy(); err != nil {
		return err
	}

	if err := d.setDriverOutputControl(); err != nil {
		return err
	}

	if err := d.setDataEntryMode(dataEntryX); err != nil {
		return err
	}

	if err := d.setWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}

	if err := d.setBorderWaveform(borderWaveformFull); err != nil {
		return err
	}

	if err := d.sendCommand(cmdDisplayUpdateControl1); err != nil {
		return err
	}
	if err := d.sendData(0x00); err != nil {
		return err
	}
	if err := d.sendData(0x80); err != nil {
		return err
	}

	if err := d.setCursor(0, 0); err != nil {
		return err
	}
	return d.waitBusy()
}

func (d *Display) initPartial() error {
	// Short reset pulse only; a software reset would wipe the base RAM.
	if err := d.setPin(d.rst, gpio.Low); err != nil {
		return err
	}
	time.Sleep(d.config.ResetDelayTime)
	if err := d.setPin(d.rst, gpio.High); err != nil {
		return err
	}

	if err := d.setBorderWaveform(borderWaveformPartial); err != nil {
		return err
	}

	if err := d.setDriverOutputControl(); err != nil {
		return err
	}

	if err := d.setDataEntryMode(dataEntryX); err != nil {
		return err
	}

	if err := d.setWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}

	return d.setCursor(0, 0)
}

func (d *Display) setDriverOutputControl() error {
	if err := d.sendCommand(cmdDriverOutputControl); err != nil {
		return err
	}
	if err := d.sendData(0xf9); err != nil {
		return err
	}
	if err := d.sendData(0x00); err != nil {
		return err
	}
	return d.sendData(0x00)
}

func (d *Display) setDataEntryMode(mode byte) error {
	if err := d.sendCommand(cmdDataEntryMode); err != nil {
		return err
	}
	return d.sendData(mode)
}

func (d *Display) setBorderWaveform(value byte) error {
	if err := d.sendCommand(cmdBorderWaveformControl); err != nil {
		return err
	}
	return d.sendData(value)
}

func (d *Display) setWindow(xStart, yStart, xEnd, yEnd int) error {
	if err := d.sendCommand(cmdSetRamXStartEndPos); err != nil {
		return err
	}
	if err := d.sendData(byte((xStart >> 3) & 0xFF)); err != nil {
		return err
	}
	if err := d.sendData(byte((xEnd >> 3) & 0xFF)); err != nil {
		return err
	}

	if err := d.sendCommand(cmdSetRamYStartEndPos); err != nil {
		return err
	}
	if err := d.sendData(byte(yStart & 0xFF)); err != nil {
		return err
	}
	if err := d.sendData(byte((yStart >> 8) & 0xFF)); err != nil {
		return err
	}
	if err := d.sendData(byte(yEnd & 0xFF)); err != nil {
		return err
	}
	return d.sendData(byte((yEnd >> 8) & 0xFF))
}

func (d *Display) setCursor(x, y int) error {
	if err := d.sendCommand(cmdSetRamXCounter); err != nil {
		return err
	}
	if err := d.sendData(byte(x & 0xFF)); err != nil {
		return err
	}

	if err := d.sendCommand(cmdSetRamYCounter); err != nil {
		return err
	}
	if err := d.sendData(byte(y & 0xFF)); err != nil {
		return err
	}
	return d.sendData(byte((y >> 8) & 0xFF))
}

// Buffer encodes img for this panel. See Encode.
func (d *Display) Buffer(img image.Image) ([]byte, error) {
	return Encode(img)
}

// DrawImage encodes img and shows it using the current mode.
func (d *Display) DrawImage(img image.Image) error {
	buf, err := d.Buffer(img)
	if err != nil {
		return err
	}
	if d.mode == PartialUpdate {
		return d.DisplayPartial(buf)
	}
	return d.Display(buf)
}

// Display writes buf to both RAM banks and runs a full refresh. The second
// bank becomes the base image for subsequent partial refreshes.
func (d *Display) Display(buf []byte) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}
	if err := d.writeRAM(cmdWriteRAM, buf); err != nil {
		return err
	}
	if err := d.writeRAM(cmdWriteBaseRAM, buf); err != nil {
		return err
	}
	return d.update(displayUpdateSequenceNormalMode)
}

// DisplayPartial writes buf to the image RAM and refreshes only the pixels
// that differ from the base RAM. Init(PartialUpdate) must have been called.
func (d *Display) DisplayPartial(buf []byte) error {
	if d.mode != PartialUpdate {
		return errors.New("partial refresh requires partial update mode")
	}
	if err := d.checkBuffer(buf); err != nil {
		return err
	}
	if err := d.setCursor(0, 0); err != nil {
		return err
	}
	if err := d.writeRAM(cmdWriteRAM, buf); err != nil {
		return err
	}
	return d.update(displayUpdateSequencePartialMode)
}

func (d *Display) checkBuffer(buf []byte) error {
	if len(buf) != BufferSize {
		return fmt.Errorf("invalid buffer size %d: must be %d", len(buf), BufferSize)
	}
	return nil
}

func (d *Display) writeRAM(cmd byte, buf []byte) error {
	if err := d.sendCommand(cmd); err != nil {
		return err
	}
	return d.sendDataBulk(buf)
}

func (d *Display) update(sequence byte) error {
	if err := d.sendCommand(cmdDisplayUpdateControl2); err != nil {
		return err
	}
	if err := d.sendData(sequence); err != nil {
		return err
	}
	if err := d.sendCommand(displayUpdateSequence); err != nil {
		return err
	}
	return d.waitBusy()
}

// Clear fills both RAM banks with white or black and runs a full refresh.
func (d *Display) Clear(white bool) error {
	var targetColor byte
	if white {
		targetColor = 0xFF
	}

	buf := make([]byte, BufferSize)
	for i := range buf {
		buf[i] = targetColor
	}

	return d.Display(buf)
}

func (d *Display) Sleep() error {
	if err := d.sendCommand(cmdEnterDeepSleep); err != nil {
		return err
	}
	return d.sendData(0x01)
}

func (d *Display) Size() (int, int) {
	return d.width, d.height
}

// Mode reports the mode set by the last successful Init.
func (d *Display) Mode() Mode {
	return d.mode
}

func (d *Display) Close() error {
	if err := d.Sleep(); err != nil {
		return err
	}
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

func (d *Display) sendCommand(cmd byte) error {
	if err := d.setPin(d.dc, gpio.Low); err != nil {
		return err
	}
	if err := d.setPin(d.cs, gpio.Low); err != nil {
		return err
	}
	if err := d.conn.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	return d.setPin(d.cs, gpio.High)
}

func (d *Display) sendData(data byte) error {
	if err := d.setPin(d.dc, gpio.High); err != nil {
		return err
	}
	if err := d.setPin(d.cs, gpio.Low); err != nil {
		return err
	}
	if err := d.conn.Tx([]byte{data}, nil); err != nil {
		return err
	}
	return d.setPin(d.cs, gpio.High)
}
