// Package service exposes the coordinator over the system D-Bus (component
// E, §4.E / §6.1): a single object implementing org.rust_fp.RustFp, with the
// caller's UID read once per call from the bus connection's credentials and
// used as the only authorization check (§4.D "Caller authentication").
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"fpauthd/internal/coordinator"
	"fpauthd/internal/driver"
	"fpauthd/internal/logging"
	"fpauthd/internal/wire"
)

// InterfaceName is the D-Bus interface the service exports.
const InterfaceName = "org.rust_fp.RustFp"

// Service is the dbus-exported object wrapping a Coordinator. Export it with
// Bind, which also requests the well-known bus name.
type Service struct {
	coord  *coordinator.Coordinator
	drv    driver.Driver
	logger *logrus.Entry
	conn   *dbus.Conn

	enrollMu     sync.Mutex
	activeEnroll map[uint32]coordinator.OperationUniqueId // per-uid EnrollStep stateless API in-flight id
}

// New builds a Service over coord and drv (used for GetMaxTemplates/GetFpInfo,
// which the coordinator does not itself expose).
func New(coord *coordinator.Coordinator, drv driver.Driver, logger *logrus.Entry) *Service {
	return &Service{coord: coord, drv: drv, logger: logger, activeEnroll: make(map[uint32]coordinator.OperationUniqueId)}
}

// Bind connects to the system bus, exports s at busPath, and requests
// busName. Callers must keep the returned *dbus.Conn open for the life of
// the service and Close it on shutdown.
func (s *Service) Bind(busName, busPath string) (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("service: connect system bus: %w", err)
	}
	s.conn = conn

	if err := conn.Export(s, dbus.ObjectPath(busPath), InterfaceName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("service: export object: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("service: request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("service: bus name %s already owned", busName)
	}

	return conn, nil
}

// callerUID resolves sender's UID via org.freedesktop.DBus.GetConnectionUnixUser,
// the one authorization check every method below performs before touching
// the coordinator.
func (s *Service) callerUID(sender dbus.Sender) (uint32, error) {
	var uid uint32
	obj := s.conn.BusObject()
	call := obj.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, string(sender))
	if call.Err != nil {
		return 0, call.Err
	}
	if err := call.Store(&uid); err != nil {
		return 0, err
	}
	return uid, nil
}

func dbusErr(name string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}

func (s *Service) accessOrNotFoundErr(err error) *dbus.Error {
	switch err {
	case coordinator.ErrAccessDenied:
		if s.logger != nil {
			logging.LogSecurityError(s.logger.Logger, err, "dbus", "operation_lookup")
		}
		return dbus.NewError("org.rust_fp.RustFp.AccessDenied", []interface{}{err.Error()})
	case coordinator.ErrNotFound:
		return dbus.NewError("org.rust_fp.RustFp.NotFound", []interface{}{err.Error()})
	default:
		return dbusErr("org.rust_fp.RustFp.Error", err)
	}
}

// GetMaxTemplates returns the sensor's advertised template capacity.
func (s *Service) GetMaxTemplates() (uint64, *dbus.Error) {
	return uint64(s.drv.GetMaxTemplates()), nil
}

// GetFpInfo returns the sensor's advertised template capacity (template_max);
// it does not report how many templates are enrolled or resident.
func (s *Service) GetFpInfo() (uint32, *dbus.Error) {
	return s.drv.Info().TemplateMax, nil
}

// StartEnroll enqueues a new enroll operation for the caller and returns its
// operation id.
func (s *Service) StartEnroll(sender dbus.Sender) (uint32, *dbus.Error) {
	uid, err := s.callerUID(sender)
	if err != nil {
		return 0, dbusErr("org.rust_fp.RustFp.Error", err)
	}
	id := s.coord.Enqueue(uid, coordinator.Operation{Kind: coordinator.OperationEnroll})
	return id.OperationID, nil
}

// GetEnrollProgress returns the live enroll status for opID.
func (s *Service) GetEnrollProgress(opID uint32, waitForNext bool, sender dbus.Sender) (bool, []byte, bool, uint32, *dbus.Error) {
	uid, err := s.callerUID(sender)
	if err != nil {
		return false, nil, false, 0, dbusErr("org.rust_fp.RustFp.Error", err)
	}

	id := coordinator.OperationUniqueId{UserID: uid, OperationID: opID}
	progress, err := s.coord.GetEnrollProgress(context.Background(), id, uid, waitForNext)
	if err != nil {
		if err == coordinator.ErrNotFound {
			return false, nil, false, 0, nil
		}
		return false, nil, false, 0, s.accessOrNotFoundErr(err)
	}
	return true, progress.Template, progress.Template != nil, progress.Images, nil
}

// WaitForOperationStart blocks until opID reaches the head of the queue.
func (s *Service) WaitForOperationStart(opID uint32, sender dbus.Sender) *dbus.Error {
	uid, err := s.callerUID(sender)
	if err != nil {
		return dbusErr("org.rust_fp.RustFp.Error", err)
	}
	id := coordinator.OperationUniqueId{UserID: uid, OperationID: opID}
	if err := s.coord.WaitForOperationStart(context.Background(), id, uid); err != nil {
		return s.accessOrNotFoundErr(err)
	}
	return nil
}

// ClearOperationResult removes opID's status entry.
func (s *Service) ClearOperationResult(opID uint32, sender dbus.Sender) *dbus.Error {
	uid, err := s.callerUID(sender)
	if err != nil {
		return dbusErr("org.rust_fp.RustFp.Error", err)
	}
	id := coordinator.OperationUniqueId{UserID: uid, OperationID: opID}
	if err := s.coord.ClearOperationResult(id, uid); err != nil {
		return s.accessOrNotFoundErr(err)
	}
	return nil
}

// MatchFinger enqueues a match operation against templates, rejecting
// requests that exceed the sensor's template capacity (§4.E's capacity
// error, reported as a method failure with no state change).
func (s *Service) MatchFinger(templates [][]byte, sender dbus.Sender) (uint32, *dbus.Error) {
	if uint32(len(templates)) > s.drv.GetMaxTemplates() {
		return 0, dbus.NewError("org.rust_fp.RustFp.TooManyTemplates",
			[]interface{}{fmt.Sprintf("requested %d templates, sensor supports %d", len(templates), s.drv.GetMaxTemplates())})
	}
	uid, err := s.callerUID(sender)
	if err != nil {
		return 0, dbusErr("org.rust_fp.RustFp.Error", err)
	}
	id := s.coord.Enqueue(uid, coordinator.Operation{Kind: coordinator.OperationMatch, Templates: templates})
	return id.OperationID, nil
}

// GetMatchResult returns the compact Option<Option<u32>> encoding (§6.2) of
// opID's decision.
func (s *Service) GetMatchResult(opID uint32, wait bool, sender dbus.Sender) ([]byte, *dbus.Error) {
	uid, err := s.callerUID(sender)
	if err != nil {
		return nil, dbusErr("org.rust_fp.RustFp.Error", err)
	}
	id := coordinator.OperationUniqueId{UserID: uid, OperationID: opID}
	decision, err := s.coord.GetMatchResult(context.Background(), id, uid, wait)
	if err != nil {
		return nil, s.accessOrNotFoundErr(err)
	}
	return wire.EncodeMatchResult(decision.Decided, decision.Matched, decision.Index), nil
}

// EnrollStep is the alternative stateless-step API (§6.1): id == 0 starts a
// new enrollment and assigns an id; subsequent calls must pass that id.
// Concurrent enrollments with a different id are refused.
func (s *Service) EnrollStep(id uint32, sender dbus.Sender) ([]byte, *dbus.Error) {
	uid, err := s.callerUID(sender)
	if err != nil {
		return nil, dbusErr("org.rust_fp.RustFp.Error", err)
	}

	opID, dErr := s.resolveEnrollStepID(uid, id)
	if dErr != nil {
		return nil, dErr
	}

	progress, err := s.coord.GetEnrollProgress(context.Background(), opID, uid, true)
	if err != nil {
		if err == coordinator.ErrNotFound {
			s.clearActiveEnroll(opID)
			return wire.EncodeEnrollStep(wire.EnrollStepReply{ID: opID.OperationID, GenericErr: true}), nil
		}
		return nil, s.accessOrNotFoundErr(err)
	}

	if progress.Err != nil {
		reply := wire.EnrollStepReply{ID: opID.OperationID}
		if progress.Err == driver.ErrLowQuality {
			reply.LowQuality = true
		} else {
			reply.GenericErr = true
			s.clearActiveEnroll(opID)
		}
		return wire.EncodeEnrollStep(reply), nil
	}

	if progress.Done {
		s.clearActiveEnroll(opID)
		return wire.EncodeEnrollStep(wire.EnrollStepReply{ID: opID.OperationID, Complete: true, Template: progress.Template}), nil
	}

	return wire.EncodeEnrollStep(wire.EnrollStepReply{ID: opID.OperationID, InProgress: true, Percent: uint8(progress.Images)}), nil
}

func (s *Service) resolveEnrollStepID(uid, id uint32) (coordinator.OperationUniqueId, *dbus.Error) {
	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	if id == 0 {
		if _, inProgress := s.activeEnroll[uid]; inProgress {
			return coordinator.OperationUniqueId{}, dbus.NewError("org.rust_fp.RustFp.EnrollInProgress",
				[]interface{}{"an enrollment is already in progress with a different id"})
		}
		opID := s.coord.Enqueue(uid, coordinator.Operation{Kind: coordinator.OperationEnroll})
		s.activeEnroll[uid] = opID
		return opID, nil
	}

	want := coordinator.OperationUniqueId{UserID: uid, OperationID: id}
	if active, ok := s.activeEnroll[uid]; !ok || active != want {
		return coordinator.OperationUniqueId{}, dbus.NewError("org.rust_fp.RustFp.EnrollInProgress",
			[]interface{}{"no matching in-progress enrollment for this id"})
	}
	return want, nil
}

func (s *Service) clearActiveEnroll(id coordinator.OperationUniqueId) {
	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()
	if active, ok := s.activeEnroll[id.UserID]; ok && active == id {
		delete(s.activeEnroll, id.UserID)
	}
}
