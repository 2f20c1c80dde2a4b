package agent

import "strings"

type ID string

const (
	Boss ID = "boss"
	Leo  ID = "leo"
	Momo ID = "momo"
	Alex ID = "alex"
)

type Status string

const (
	StatusIdle          Status = "IDLE"
	StatusMoving        Status = "MOVING"
	StatusWorking       Status = "WORKING"
	StatusCommunicating Status = "COMMUNICATING"
	StatusResting       Status = "RESTING"
	StatusManaging      Status = "MANAGING"
)

type Zone string

const (
	ZoneWork    Zone = "work"
	ZoneMeeting Zone = "meeting"
	ZoneLounge  Zone = "lounge"
	ZoneOffice  Zone = "office"
)

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Profile is the fixed identity of a roster member.
type Profile struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Color     string `json:"color"`
	IsManager bool   `json:"isManager,omitempty"`
	HomeZone  Zone   `json:"homeZone"`
}

var roster = []Profile{
	{ID: Boss, Name: "BOSS", Role: "Team Lead", Color: "#bb44ff", IsManager: true, HomeZone: ZoneOffice},
	{ID: Leo, Name: "LEO", Role: "Code Master", Color: "#ff4466", HomeZone: ZoneWork},
	{ID: Momo, Name: "MOMO", Role: "Planning Genius", Color: "#ffbb33", HomeZone: ZoneWork},
	{ID: Alex, Name: "ALEX", Role: "Analyst", Color: "#00ddff", HomeZone: ZoneWork},
}

// Team is the working roster that takes missions, in name-priority order.
var Team = []ID{Leo, Momo, Alex}

func Roster() []Profile {
	out := make([]Profile, len(roster))
	copy(out, roster)
	return out
}

func Lookup(id ID) (Profile, bool) {
	for _, p := range roster {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// ParseID accepts a roster id in any case.
func ParseID(s string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(id); !ok {
		return "", false
	}
	return id, true
}

// IsTeamMember reports whether id is one of the mission-taking agents.
func IsTeamMember(id ID) bool {
	for _, t := range Team {
		if t == id {
			return true
		}
	}
	return false
}

// Desk positions per zone, one slot per roster member.
var zoneSlots = map[Zone]map[ID]Position{
	ZoneWork: {
		Leo:  {X: 120, Y: 140},
		Momo: {X: 200, Y: 140},
		Alex: {X: 280, Y: 140},
		Boss: {X: 360, Y: 140},
	},
	ZoneMeeting: {
		Leo:  {X: 460, Y: 120},
		Momo: {X: 520, Y: 120},
		Alex: {X: 490, Y: 180},
		Boss: {X: 550, Y: 180},
	},
	ZoneLounge: {
		Leo:  {X: 120, Y: 320},
		Momo: {X: 180, Y: 320},
		Alex: {X: 240, Y: 320},
		Boss: {X: 300, Y: 320},
	},
	ZoneOffice: {
		Boss: {X: 520, Y: 320},
		Leo:  {X: 480, Y: 350},
		Momo: {X: 520, Y: 350},
		Alex: {X: 560, Y: 350},
	},
}

// SlotFor returns where id stands inside zone.
func SlotFor(id ID, zone Zone) Position {
	if slots, ok := zoneSlots[zone]; ok {
		if p, ok := slots[id]; ok {
			return p
		}
	}
	return Position{}
}
