package driver_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpauthd/internal/driver"
	"fpauthd/internal/driver/fake"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistrySelect_NoCompatible(t *testing.T) {
	reg := driver.NewRegistry(
		fake.NewFactory("a", false, nil, testLogger()),
		fake.NewFactory("b", false, nil, testLogger()),
	)

	_, _, err := reg.Select(context.Background())
	require.ErrorIs(t, err, driver.ErrNoDriver)
}

func TestRegistrySelect_EmptyRegistry(t *testing.T) {
	reg := driver.NewRegistry()
	_, _, err := reg.Select(context.Background())
	require.ErrorIs(t, err, driver.ErrNoDriver)
}

func TestRegistrySelect_ExactlyOne(t *testing.T) {
	clock := fake.NewClock(0)
	rpc := fake.New(clock, driver.SensorInfo{TemplateMax: 5})
	reg := driver.NewRegistry(
		fake.NewFactory("a", false, nil, testLogger()),
		fake.NewFactory("b", true, rpc, testLogger()),
	)

	drv, f, err := reg.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", f.Name())
	assert.Equal(t, uint32(5), drv.GetMaxTemplates())
}

func TestRegistrySelect_Ambiguous(t *testing.T) {
	clock := fake.NewClock(0)
	reg := driver.NewRegistry(
		fake.NewFactory("a", true, fake.New(clock, driver.SensorInfo{}), testLogger()),
		fake.NewFactory("b", true, fake.New(clock, driver.SensorInfo{}), testLogger()),
	)

	_, _, err := reg.Select(context.Background())
	require.Error(t, err)
	var ambiguous *driver.AmbiguousDriversError
	require.True(t, errors.As(err, &ambiguous))
	assert.ElementsMatch(t, []string{"a", "b"}, ambiguous.Names)
}

func TestRegistrySelect_CompatErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	reg := driver.NewRegistry(
		fake.NewFactory("a", false, nil, testLogger()).WithCompatError(boom),
	)

	_, _, err := reg.Select(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
