package classview

import (
	"encoding/json"
	"sort"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/realtime"
)

// Tabs
const (
	TabStream    = "stream"
	TabClasswork = "classwork"
	TabPeople    = "people"
)

var Tabs = []string{TabStream, TabClasswork, TabPeople}

// Frame types
const (
	// client -> server
	FrameTab                = "tab"
	FrameWatchSubmissions   = "watch-submissions"
	FrameUnwatchSubmissions = "unwatch-submissions"

	// server -> client
	FrameError         = "error"
	FrameClass         = "class"
	FrameClassRemoved  = "class-removed"
	FrameMembers       = "members"
	FrameAnnouncements = "announcements"
	FrameAnnouncement  = "announcement"
	FrameAssignments   = "assignments"
	FrameAssignment    = "assignment"
	FrameSubmissions   = "submissions"
	FrameSubmission    = "submission"
)

// ClientFrame is a message sent by the browser.
type ClientFrame struct {
	Type         string `json:"type"`
	Tab          string `json:"tab,omitempty" validate:"omitempty,tab"`
	AssignmentID string `json:"assignmentId,omitempty"`
}

// ServerFrame is a message pushed to the browser. Snapshots carry Data only; deltas also carry the
// change kind, the entity id and its version.
type ServerFrame struct {
	Type         string          `json:"type"`
	Tab          string          `json:"tab,omitempty"`
	Kind         realtime.Kind   `json:"kind,omitempty"`
	ID           string          `json:"id,omitempty"`
	Version      int64           `json:"version,omitempty"`
	AssignmentID string          `json:"assignmentId,omitempty"`
	Error        string          `json:"error,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// MemberView is one row of the people tab.
type MemberView struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PhotoURL  string `json:"photoURL"`
	Role      string `json:"role"`
	IsCreator bool   `json:"isCreator"`
}

func sortMembers(members []MemberView) {
	sort.Slice(members, func(i, j int) bool {
		ti, tj := members[i].Role == classroom.RoleTeacher, members[j].Role == classroom.RoleTeacher
		if ti != tj {
			return ti
		}
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].UID < members[j].UID
	})
}
