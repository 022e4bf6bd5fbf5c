package hardware

import (
	"errors"
	"fmt"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/logsink"
)

var (
	ErrNotConnected = errors.New("not connected to the SNAP")
	ErrNotRunning   = errors.New("cannot program fpga")
)

// Blocks initialized one by one when the board refuses a full initialization.
var Blocks = []string{"pfb", "corr_0", "corr_1"}

// Initializer brings the board into a state where the accumulators run.
type Initializer interface {
	IsConnected() bool
	// IsRunning reports whether the fpga is programmed and running.
	IsRunning() bool
	Program() error
	// InitADC initializes and aligns the ADCs.
	InitADC() error
	// InitBlocks initializes all firmware blocks at once.
	InitBlocks() error
	InitBlock(name string) error
}

// Initialize checks the connection, programs the fpga if needed, brings up
// the ADCs and initializes the firmware blocks. ADC bring-up is attempted
// twice, a second failure returns a *corr.HardwareInitError.
func Initialize(b Initializer, log logsink.Logger) error {
	log.Infof("Starting the spectrometer...")
	if !b.IsConnected() {
		return ErrNotConnected
	}

	if !b.IsRunning() {
		log.Warningf("fpga is not running, programming...")
		if err := b.Program(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
		if !b.IsRunning() {
			return ErrNotRunning
		}
	}

	log.Infof("Aligning and initializing ADCs...")
	if err := b.InitADC(); err != nil {
		log.Warningf("could not initialize ADCs on first attempt, trying again: %s", err)
		if err := b.InitADC(); err != nil {
			return &corr.HardwareInitError{Attempts: 2, Err: err}
		}
	}

	log.Infof("Initializing other blocks, including PFB and both correlators...")
	if err := b.InitBlocks(); err != nil {
		log.Warningf("full block initialization failed, initializing blocks one by one: %s", err)
		for _, name := range Blocks {
			if err := b.InitBlock(name); err != nil {
				return fmt.Errorf("unable to initialize block %s: %w", name, err)
			}
		}
	}

	log.Infof("Spectrometer is ready.")
	return nil
}
