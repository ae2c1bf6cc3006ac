package fake

import (
	"context"
	"log/slog"

	"fpauthd/internal/driver"
	"fpauthd/internal/sensor"
)

// Factory is a driver.Factory over a fake RPC, for registry and coordinator
// tests that need a full Driver without a real device file.
type Factory struct {
	name       string
	compatible bool
	compatErr  error
	rpc        *RPC
	seed       [32]byte
	fpContext  [32]byte
	logger     *slog.Logger
}

func NewFactory(name string, compatible bool, rpc *RPC, logger *slog.Logger) *Factory {
	return &Factory{name: name, compatible: compatible, rpc: rpc, logger: logger}
}

// WithCompatError makes IsCompatible fail instead of returning false,
// exercising the registry's error-propagation path.
func (f *Factory) WithCompatError(err error) *Factory {
	f.compatErr = err
	return f
}

func (f *Factory) Name() string { return f.name }

func (f *Factory) IsCompatible(ctx context.Context) (bool, error) {
	if f.compatErr != nil {
		return false, f.compatErr
	}
	return f.compatible, nil
}

func (f *Factory) OpenAndInit(ctx context.Context) (driver.Driver, error) {
	return sensor.Open(ctx, f.rpc, f.seed, f.fpContext, f.logger)
}
