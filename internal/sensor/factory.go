package sensor

import (
	"context"
	"log/slog"
	"os"

	"fpauthd/internal/driver"
)

// Factory binds the driver.Factory capability set (§4.C/§4.G) to the
// cros_fp character device. Exactly one Factory is expected to report
// compatible at startup.
type Factory struct {
	devicePath string
	seed       [32]byte
	fpContext  [32]byte
	logger     *slog.Logger
}

// NewFactory builds a driver.Factory for the cros_fp device at devicePath.
func NewFactory(devicePath string, seed, fpContext [32]byte, logger *slog.Logger) *Factory {
	return &Factory{devicePath: devicePath, seed: seed, fpContext: fpContext, logger: logger}
}

func (f *Factory) Name() string { return "cros_fp" }

// IsCompatible reports whether the device node exists and is openable,
// without driving any protocol on it yet.
func (f *Factory) IsCompatible(ctx context.Context) (bool, error) {
	dev, err := OpenDevice(f.devicePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, dev.Close()
}

// OpenAndInit opens the device and runs §4.B's open/init sequence.
func (f *Factory) OpenAndInit(ctx context.Context) (driver.Driver, error) {
	dev, err := OpenDevice(f.devicePath)
	if err != nil {
		return nil, err
	}
	return Open(ctx, dev, f.seed, f.fpContext, f.logger)
}
