// Package busapi exports a read-only status object for a seat's bridge
// on D-Bus.
package busapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/google/uuid"

	"imbridge/internal/ime"
	"imbridge/internal/logging"
)

// D-Bus names.
const (
	BusName    = "org.imbridge"
	Interface  = "org.imbridge.Seat1"
	PathPrefix = "/org/imbridge/Seat"

	ErrNoActive = "org.imbridge.Error.NoActiveTextInput"
)

// Status is the bridge state the bus object reports.
type Status interface {
	SeatName() string
	CurrentInputMethod() (string, bool)
	InputMethods() []string
	ActiveTextInput() (id uint64, routingID string, ok bool)
	KeyLogLength() int
	Stats() map[string]uint64
}

// Seat is the exported object. Its exported methods are the D-Bus
// methods of Interface.
type Seat struct {
	status Status
	logger *logging.Logger
}

// NewSeat returns the bus object for status.
func NewSeat(status Status, logger *logging.Logger) *Seat {
	if logger == nil {
		logger = logging.Default()
	}
	return &Seat{status: status, logger: logger.WithComponent("busapi")}
}

// Name returns the seat name.
func (s *Seat) Name() (string, *dbus.Error) {
	return s.status.SeatName(), nil
}

// CurrentInputMethod returns the routing id of the current input method,
// or an empty string.
func (s *Seat) CurrentInputMethod() (string, *dbus.Error) {
	id, _ := s.status.CurrentInputMethod()
	return id, nil
}

// InputMethods returns the routing ids of the live input methods.
func (s *Seat) InputMethods() ([]string, *dbus.Error) {
	ids := s.status.InputMethods()
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ActiveTextInput returns the object id and input-method binding of the
// active text-input.
func (s *Seat) ActiveTextInput() (uint64, string, *dbus.Error) {
	id, routingID, ok := s.status.ActiveTextInput()
	if !ok {
		return 0, "", dbus.NewError(ErrNoActive, []interface{}{"no text-input is active"})
	}
	return id, routingID, nil
}

// KeyLogLength returns the number of keys held for replay.
func (s *Seat) KeyLogLength() (uint32, *dbus.Error) {
	return uint32(s.status.KeyLogLength()), nil
}

// Stats returns the bridge counters.
func (s *Seat) Stats() (map[string]uint64, *dbus.Error) {
	return s.status.Stats(), nil
}

// ObjectPath returns the object path for the seat identified by id.
func ObjectPath(id uuid.UUID) dbus.ObjectPath {
	return dbus.ObjectPath(PathPrefix + "/" + strings.ReplaceAll(id.String(), "-", "_"))
}

// Connect opens the named bus: "session" or "system".
func Connect(bus string) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch bus {
	case "", "session":
		conn, err = dbus.ConnectSessionBus()
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", bus, err)
	}
	return conn, nil
}

// Service is a Seat exported on a connection.
type Service struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	seat *Seat
}

// Export publishes seat at ObjectPath(id) and claims BusName. Another
// owner of BusName is not an error: the object stays reachable through
// the connection's unique name.
func Export(conn *dbus.Conn, seat *Seat, id uuid.UUID) (*Service, error) {
	path := ObjectPath(id)
	if err := conn.Export(seat, path, Interface); err != nil {
		return nil, fmt.Errorf("export seat: %w", err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: Interface, Methods: introspect.Methods(seat)},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		seat.logger.Warn("bus name already taken", "name", BusName, "path", string(path))
	}
	seat.logger.Info("seat status exported", "path", string(path))

	return &Service{conn: conn, path: path, seat: seat}, nil
}

// Path returns the exported object path.
func (s *Service) Path() dbus.ObjectPath {
	return s.path
}

// Close unexports the object and closes the connection.
func (s *Service) Close() error {
	err := errors.Join(
		s.conn.Export(nil, s.path, Interface),
		s.conn.Export(nil, s.path, "org.freedesktop.DBus.Introspectable"),
	)
	return errors.Join(err, s.conn.Close())
}

// BridgeStatus reports the state of an ime.Bridge.
type BridgeStatus struct {
	Bridge *ime.Bridge
}

// SeatName returns the bridge's seat.
func (b BridgeStatus) SeatName() string { return b.Bridge.SeatName() }

// CurrentInputMethod returns the current input method.
func (b BridgeStatus) CurrentInputMethod() (string, bool) {
	return b.Bridge.InputMethods().Current()
}

// InputMethods returns the live routing ids.
func (b BridgeStatus) InputMethods() []string {
	return b.Bridge.InputMethods().RoutingIDs()
}

// ActiveTextInput returns the active text-input and the input method
// serving it.
func (b BridgeStatus) ActiveTextInput() (uint64, string, bool) {
	ti, bound, ok := b.Bridge.TextInputs().Active()
	if !ok {
		return 0, "", false
	}
	routingID, _ := b.Bridge.InputMethods().Resolve(bound)
	return uint64(ti.ID()), routingID, true
}

// KeyLogLength returns the key log length.
func (b BridgeStatus) KeyLogLength() int { return b.Bridge.KeyLog().Len() }

// Stats returns the bridge counters.
func (b BridgeStatus) Stats() map[string]uint64 { return b.Bridge.Metrics().Stats() }
