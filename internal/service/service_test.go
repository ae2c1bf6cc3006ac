package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpauthd/internal/coordinator"
	"fpauthd/internal/driver"
	"fpauthd/internal/driver/fake"
	"fpauthd/internal/sensor"

	"github.com/sirupsen/logrus"
)

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestService(t *testing.T, tmplMax uint32) (*Service, *fake.RPC) {
	t.Helper()
	clock := fake.NewClock(2 * time.Second)
	rpc := fake.New(clock, driver.SensorInfo{TemplateMax: tmplMax, Vendor: "cros_fp"})
	drv, err := sensor.Open(context.Background(), rpc, [32]byte{1}, [32]byte{2}, nil)
	require.NoError(t, err)
	coord := coordinator.New(drv, silentLogger(), nil)
	return New(coord, drv, silentLogger()), rpc
}

func TestMatchFinger_RejectsTooManyTemplates(t *testing.T) {
	svc, _ := newTestService(t, 2)

	_, dErr := svc.MatchFinger([][]byte{{1}, {2}, {3}}, "")
	require.NotNil(t, dErr)
	assert.Equal(t, "org.rust_fp.RustFp.TooManyTemplates", dErr.Name)
}

func TestResolveEnrollStepID_AssignsAndGuardsID(t *testing.T) {
	svc, _ := newTestService(t, 2)

	id, dErr := svc.resolveEnrollStepID(7, 0)
	require.Nil(t, dErr)
	assert.Equal(t, uint32(7), id.UserID)

	// A second id==0 call while one is active is refused.
	_, dErr = svc.resolveEnrollStepID(7, 0)
	assert.NotNil(t, dErr)
	assert.Equal(t, "org.rust_fp.RustFp.EnrollInProgress", dErr.Name)

	// Passing the assigned id back resolves to the same operation.
	again, dErr := svc.resolveEnrollStepID(7, id.OperationID)
	require.Nil(t, dErr)
	assert.Equal(t, id, again)

	// A mismatched id is refused.
	_, dErr = svc.resolveEnrollStepID(7, id.OperationID+1)
	assert.NotNil(t, dErr)

	svc.clearActiveEnroll(id)

	// Once cleared, id==0 can start a fresh enrollment.
	_, dErr = svc.resolveEnrollStepID(7, 0)
	assert.Nil(t, dErr)
}

func TestResolveEnrollStepID_DoesNotBlockOtherUsers(t *testing.T) {
	svc, _ := newTestService(t, 2)

	idA, dErr := svc.resolveEnrollStepID(7, 0)
	require.Nil(t, dErr)

	// A different uid starting its own id==0 enrollment must not be blocked
	// by uid 7's in-flight one.
	idB, dErr := svc.resolveEnrollStepID(9, 0)
	require.Nil(t, dErr)
	assert.Equal(t, uint32(9), idB.UserID)
	assert.NotEqual(t, idA, idB)

	// uid 9 still can't start a second concurrent enrollment of its own.
	_, dErr = svc.resolveEnrollStepID(9, 0)
	assert.NotNil(t, dErr)
	assert.Equal(t, "org.rust_fp.RustFp.EnrollInProgress", dErr.Name)

	// uid 7's own in-flight enrollment is unaffected by uid 9's activity.
	again, dErr := svc.resolveEnrollStepID(7, idA.OperationID)
	require.Nil(t, dErr)
	assert.Equal(t, idA, again)
}

func TestGetMaxTemplates_ReportsDriverCapacity(t *testing.T) {
	svc, _ := newTestService(t, 5)
	n, dErr := svc.GetMaxTemplates()
	require.Nil(t, dErr)
	assert.Equal(t, uint64(5), n)
}
