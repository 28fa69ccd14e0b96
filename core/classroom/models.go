package classroom

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

// Roles
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

const (
	DefaultSection = "No Section"
	DefaultSubject = "No Subject"
	DefaultPoints  = 100

	StatusSubmitted = "submitted"
	StatusGraded    = "graded"
)

var Roles = []string{RoleTeacher, RoleStudent}

// Caller is the signed-in user acting on the classroom.
type Caller struct {
	UID      string
	Name     string
	Email    string
	PhotoURL string
}

// DisplayName falls back to the email when the caller has no name.
func (c Caller) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

type Member struct {
	Role     string    `json:"role"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	PhotoURL string    `json:"photoURL"`
	Joined   time.Time `json:"joined"`
}

type Class struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Section      string            `json:"section"`
	Subject      string            `json:"subject"`
	Teacher      string            `json:"teacher"`
	ClassCode    string            `json:"classCode,omitempty"`
	Color        string            `json:"color"`
	CreatedBy    string            `json:"createdBy"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastModified time.Time         `json:"lastModified"`
	Version      int64             `json:"version"`
	Members      map[string]Member `json:"members"`

	// caller-relative decorations
	Role      string `json:"role,omitempty"`
	IsTeacher bool   `json:"isTeacher,omitempty"`
}

// IsTeacher is the single predicate behind every teacher-only action.
func IsTeacher(cls Class, uid string) bool {
	if uid == "" {
		return false
	}
	if cls.CreatedBy == uid {
		return true
	}
	m, ok := cls.Members[uid]
	return ok && m.Role == RoleTeacher
}

func (c Class) IsMember(uid string) bool {
	if uid == "" {
		return false
	}
	if c.CreatedBy == uid {
		return true
	}
	_, ok := c.Members[uid]
	return ok
}

// Clone deep copies the members map.
func (c Class) Clone() Class {
	members := make(map[string]Member, len(c.Members))
	for uid, m := range c.Members {
		members[uid] = m
	}
	c.Members = members
	return c
}

// ViewFor decorates a copy of c for uid; the join code is only kept for teachers.
func (c Class) ViewFor(uid string) Class {
	v := c.Clone()
	v.IsTeacher = IsTeacher(c, uid)
	if v.IsTeacher {
		v.Role = RoleTeacher
	} else {
		v.Role = RoleStudent
		v.ClassCode = ""
	}
	return v
}

// ClassFilter selects classes; set fields are ANDed.
type ClassFilter struct {
	CreatedBy   string
	MemberID    string
	MemberRoles []string
	Code        string
}

type Announcement struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"classId"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	AuthorPhoto string    `json:"authorPhoto"`
	CreatedAt   time.Time `json:"createdAt"`
	Version     int64     `json:"version"`

	CanDelete bool `json:"canDelete"`
}

type Assignment struct {
	ID          string     `json:"id"`
	ClassID     string     `json:"classId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Points      float64    `json:"points"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	Version     int64      `json:"version"`
}

type Submission struct {
	AssignmentID string     `json:"assignmentId"`
	StudentID    string     `json:"submittedBy"`
	Content      string     `json:"content"`
	StudentName  string     `json:"studentName"`
	StudentEmail string     `json:"studentEmail"`
	Status       string     `json:"status"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	Grade        *float64   `json:"grade"`
	MaxPoints    *float64   `json:"maxPoints,omitempty"`
	GradedBy     string     `json:"gradedBy,omitempty"`
	GradedAt     *time.Time `json:"gradedAt,omitempty"`
	Version      int64      `json:"version"`
}

// AssignmentOrderingFields maps the accepted assignment ordering fields to their columns.
var AssignmentOrderingFields = map[string]string{
	"createdAt": "created_at",
	"dueDate":   "due_date",
	"title":     "title",
	"points":    "points",
}

// NewClass contains information needed to create a Class.
type NewClass struct {
	Name    string `json:"name" validate:"notblank"`
	Section string `json:"section"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher" validate:"notblank"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Section = core.CleanString(nc.Section)
	nc.Subject = core.CleanString(nc.Subject)
	nc.Teacher = core.CleanString(nc.Teacher)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.Section == "" {
		nc.Section = DefaultSection
	}
	if nc.Subject == "" {
		nc.Subject = DefaultSubject
	}
	return nil
}

type JoinClass struct {
	Code string `json:"classCode"`
}

type NewAnnouncement struct {
	Content string `json:"content"`
}

// NewAssignment contains information needed to create an Assignment; Points defaults to DefaultPoints.
type NewAssignment struct {
	Title       string     `json:"title" validate:"notblank"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Points      *float64   `json:"points" validate:"omitempty,gte=0"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	if err := validate.Struct(na); err != nil {
		return err
	}
	if na.Points == nil {
		pts := float64(DefaultPoints)
		na.Points = &pts
	}
	return nil
}

type NewSubmission struct {
	Content string `json:"content"`
}

// RawGrade is the grade exactly as typed; it accepts JSON strings and numbers.
type RawGrade string

func (g *RawGrade) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*g = RawGrade(s)
		return nil
	}
	if string(data) == "null" {
		*g = ""
		return nil
	}
	*g = RawGrade(data)
	return nil
}

type GradeSubmission struct {
	Grade RawGrade `json:"grade"`
}

type ChangeRole struct {
	Role string `json:"role" validate:"required,classrole"`
}

func (cr *ChangeRole) Validate(validate *validator.Validate) error {
	cr.Role = core.CleanString(cr.Role, true /* lower */)
	return validate.Struct(cr)
}

// GradeNotification is the payload of the "Grade Posted" email.
type GradeNotification struct {
	AssignmentName string  `json:"assignmentName"`
	Grade          float64 `json:"grade"`
	MaxPoints      float64 `json:"maxPoints"`
	ClassName      string  `json:"className"`
	TeacherName    string  `json:"teacherName"`
}

func formatPoints(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(strconv.FormatFloat(f, 'f', 2, 64), "0"), ".")
}
