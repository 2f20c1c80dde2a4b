package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrInvalidTransition = errors.New("invalid agent transition")

// Command names a state machine input.
type Command string

const (
	CmdBeginWork    Command = "beginWork"
	CmdArriveAt     Command = "arriveAt"
	CmdStartTalking Command = "startTalking"
	CmdRest         Command = "rest"
	CmdManage       Command = "manage"
	CmdFinish       Command = "finish"
)

// State is a snapshot of one agent's position in the office.
type State struct {
	ID       ID       `json:"id"`
	Status   Status   `json:"status"`
	Zone     Zone     `json:"zone"`
	Position Position `json:"position"`
}

// Machine owns the status and zone of a single agent. Status and zone only
// change through commands, so COMMUNICATING always implies the meeting zone
// and MANAGING always implies a manager.
type Machine struct {
	profile Profile
	state   State
}

func NewMachine(p Profile) *Machine {
	return &Machine{
		profile: p,
		state: State{
			ID:       p.ID,
			Status:   StatusIdle,
			Zone:     p.HomeZone,
			Position: SlotFor(p.ID, p.HomeZone),
		},
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) BeginWork() (State, error) {
	return m.apply(StatusWorking, ZoneWork)
}

func (m *Machine) ArriveAt(zone Zone) (State, error) {
	if _, ok := zoneSlots[zone]; !ok {
		return m.state, fmt.Errorf("%w: %s cannot arrive at unknown zone %q", ErrInvalidTransition, m.profile.ID, zone)
	}
	return m.apply(StatusMoving, zone)
}

func (m *Machine) StartTalking() (State, error) {
	if m.state.Zone != ZoneMeeting {
		return m.state, fmt.Errorf("%w: %s cannot talk outside the meeting zone (in %s)", ErrInvalidTransition, m.profile.ID, m.state.Zone)
	}
	return m.apply(StatusCommunicating, ZoneMeeting)
}

func (m *Machine) Rest() (State, error) {
	if m.state.Status == StatusManaging {
		return m.state, fmt.Errorf("%w: %s must finish managing before resting", ErrInvalidTransition, m.profile.ID)
	}
	return m.apply(StatusResting, ZoneLounge)
}

func (m *Machine) Manage() (State, error) {
	if !m.profile.IsManager {
		return m.state, fmt.Errorf("%w: %s is not a manager", ErrInvalidTransition, m.profile.ID)
	}
	return m.apply(StatusManaging, ZoneOffice)
}

// Finish returns the agent to IDLE where it stands.
func (m *Machine) Finish() (State, error) {
	return m.apply(StatusIdle, m.state.Zone)
}

func (m *Machine) apply(status Status, zone Zone) (State, error) {
	m.state.Status = status
	m.state.Zone = zone
	m.state.Position = SlotFor(m.profile.ID, zone)
	return m.state, nil
}

// Crew holds one machine per roster member for a single mission execution.
type Crew struct {
	mu       sync.Mutex
	machines map[ID]*Machine
}

func NewCrew() *Crew {
	c := &Crew{machines: make(map[ID]*Machine, len(roster))}
	for _, p := range roster {
		c.machines[p.ID] = NewMachine(p)
	}
	return c
}

// Do runs cmd against the agent's machine. zone is only used by CmdArriveAt.
func (c *Crew) Do(id ID, cmd Command, zone Zone) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.machines[id]
	if !ok {
		return State{}, fmt.Errorf("%w: unknown agent %q", ErrInvalidTransition, id)
	}

	switch cmd {
	case CmdBeginWork:
		return m.BeginWork()
	case CmdArriveAt:
		return m.ArriveAt(zone)
	case CmdStartTalking:
		return m.StartTalking()
	case CmdRest:
		return m.Rest()
	case CmdManage:
		return m.Manage()
	case CmdFinish:
		return m.Finish()
	}
	return m.state, fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, cmd)
}

func (c *Crew) State(id ID) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.machines[id]
	if !ok {
		return State{}, false
	}
	return m.State(), true
}

// CommandForStatus maps a free-form status reported by an external team
// process onto the command that reaches the closest roster status.
func CommandForStatus(status string) (Command, Zone) {
	switch Status(strings.ToUpper(strings.TrimSpace(status))) {
	case StatusIdle, "DONE", "STOPPED", "COMPLETED":
		return CmdFinish, ""
	case StatusMoving:
		return CmdArriveAt, ZoneWork
	case StatusCommunicating, "TALKING":
		return CmdStartTalking, ZoneMeeting
	case StatusResting, "PAUSED":
		return CmdRest, ""
	case StatusManaging:
		return CmdManage, ""
	}
	return CmdBeginWork, ""
}
