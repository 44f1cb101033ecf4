package deploy

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/pandaura/pandaura/internal/errors"
)

// machineContext is the context type carried by the deployment machine.
type machineContext struct{}

// Event names for the deployment machine.
const (
	EventStart    statekit.EventType = "START"
	EventPause    statekit.EventType = "PAUSE"
	EventResume   statekit.EventType = "RESUME"
	EventStepOK   statekit.EventType = "STEP_OK"
	EventComplete statekit.EventType = "COMPLETE"
	EventFail     statekit.EventType = "FAIL"
	EventCancel   statekit.EventType = "CANCEL"
	EventRollback statekit.EventType = "ROLLBACK"
)

// Guard names for the deployment machine.
const (
	GuardReady statekit.GuardType = "ready"
)

// State IDs for the deployment machine.
var (
	stateIDPending    = statekit.StateID(StatusPending)
	stateIDRunning    = statekit.StateID(StatusRunning)
	stateIDPaused     = statekit.StateID(StatusPaused)
	stateIDSuccess    = statekit.StateID(StatusSuccess)
	stateIDFailed     = statekit.StateID(StatusFailed)
	stateIDRolledBack = statekit.StateID(StatusRolledBack)
)

// Machine wraps the statekit interpreter for one deployment.
type Machine struct {
	interpreter *statekit.Interpreter[machineContext]
	record      *Record
}

// NewMachine builds the deployment state machine bound to one record. The
// ready guard samples the record's checks and approval gate at send time.
func NewMachine(rec *Record) (*Machine, error) {
	m := &Machine{record: rec}

	machine, err := statekit.NewMachine[machineContext]("deployment").
		WithInitial(stateIDPending).
		WithGuard(GuardReady, func(machineContext, statekit.Event) bool {
			return rec.ChecksPassed && rec.ApprovalCount >= rec.ApprovalsRequired
		}).
		State(stateIDPending).
		On(EventStart).Target(stateIDRunning).Guard(GuardReady).
		On(EventCancel).Target(stateIDFailed).
		Done().
		State(stateIDRunning).
		On(EventStepOK).Target(stateIDRunning).
		On(EventPause).Target(stateIDPaused).
		On(EventComplete).Target(stateIDSuccess).
		On(EventFail).Target(stateIDFailed).
		On(EventCancel).Target(stateIDFailed).
		Done().
		State(stateIDPaused).
		On(EventResume).Target(stateIDRunning).
		On(EventCancel).Target(stateIDFailed).
		Done().
		State(stateIDSuccess).
		On(EventRollback).Target(stateIDRolledBack).
		Done().
		State(stateIDFailed).
		On(EventRollback).Target(stateIDRolledBack).
		Done().
		State(stateIDRolledBack).
		Final().
		Done().
		Build()
	if err != nil {
		return nil, errors.InternalWrap(err, "deploy.NewMachine", "failed to build state machine")
	}

	m.interpreter = statekit.NewInterpreter(machine)
	m.interpreter.Start()
	return m, nil
}

// NewMachineAt rebuilds a machine positioned at the record's persisted
// status by replaying the event path that reaches it.
func NewMachineAt(rec *Record) (*Machine, error) {
	m, err := NewMachine(rec)
	if err != nil {
		return nil, err
	}
	var path []statekit.EventType
	switch rec.Status {
	case StatusPending:
	case StatusRunning:
		path = []statekit.EventType{EventStart}
	case StatusPaused:
		path = []statekit.EventType{EventStart, EventPause}
	case StatusSuccess:
		path = []statekit.EventType{EventStart, EventComplete}
	case StatusFailed:
		path = []statekit.EventType{EventStart, EventFail}
	case StatusRolledBack:
		path = []statekit.EventType{EventStart, EventFail, EventRollback}
	default:
		return nil, errors.Newf(errors.KindInternal, "unknown deployment status %q", rec.Status)
	}
	for _, ev := range path {
		m.interpreter.Send(statekit.Event{Type: ev})
	}
	return m, nil
}

// Send fires one event. It returns a conflict error when the machine did
// not move and the event was not a self-transition.
func (m *Machine) Send(event statekit.EventType) error {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: event})
	after := m.Current()

	if before == after && event != EventStepOK {
		if event == EventStart {
			return errors.Precondition("deploy.Machine.Send",
				"deployment is not ready to start").
				WithHint("checks must pass and approvals must meet the required count")
		}
		return errors.Conflict("deploy.Machine.Send", "event not allowed in current state").
			WithDetail("state", string(before)).
			WithDetail("event", string(event))
	}
	return nil
}

// Current returns the machine's current status.
func (m *Machine) Current() Status {
	return Status(m.interpreter.State().Value)
}

// Done reports whether the machine reached a terminal state.
func (m *Machine) Done() bool {
	return m.interpreter.Done()
}
