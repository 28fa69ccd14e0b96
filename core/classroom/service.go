package classroom

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/inflight"
	"github.com/trezcool/darasa/core/realtime"
)

var (
	// errors
	ErrNotFound             = errors.New("class not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrAlreadyMember        = errors.New("You are already a member of this class")
	ErrAlreadySubmitted     = errors.New("Assignment already submitted")

	// user-facing messages
	errBlankCode               = errors.New("Please enter a class code")
	errInvalidCode             = errors.New("Invalid class code. Please check and try again.")
	errNotMember               = errors.New("You are not a member of this class.")
	errCreatorCannotLeave      = errors.New("Class creators cannot leave their own class.")
	errEmptyAnnouncement       = errors.New("Announcement cannot be empty")
	errEmptySubmission         = errors.New("Please enter your answer before submitting")
	errCannotChangeOwnRole     = errors.New("You cannot change your own role")
	errCannotChangeCreatorRole = errors.New("The class creator's role cannot be changed")
)

// Guarded action names
const (
	actionCreateClass        = "create-class"
	actionJoinClass          = "join-class"
	actionDeleteClass        = "delete-class"
	actionLeaveClass         = "leave-class"
	actionPostAnnouncement   = "post-announcement"
	actionDeleteAnnouncement = "delete-announcement"
	actionCreateAssignment   = "create-assignment"
	actionDeleteAssignment   = "delete-assignment"
	actionSubmit             = "submit"
	actionGrade              = "grade"
	actionChangeRole         = "change-role"
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		// QueryClasses returns matching classes, oldest first.
		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		// AddMember inserts uid into the class and bumps its version; ErrAlreadyMember if uid is a member.
		AddMember(ctx context.Context, classID, uid string, m Member, at time.Time) (Class, error)
		RemoveMember(ctx context.Context, classID, uid string, at time.Time) (Class, error)
		SetMemberRole(ctx context.Context, classID, uid, role string, at time.Time) (Class, error)
		// TouchClass bumps lastModified and version.
		TouchClass(ctx context.Context, classID string, at time.Time) (Class, error)
		// DeleteClass removes the class with its members, announcements, assignments and submissions atomically.
		DeleteClass(ctx context.Context, id string) error

		CreateAnnouncement(ctx context.Context, a Announcement) (Announcement, error)
		GetAnnouncement(ctx context.Context, id string) (Announcement, error)
		// QueryAnnouncements returns the class announcements, newest first.
		QueryAnnouncements(ctx context.Context, classID string) ([]Announcement, error)
		DeleteAnnouncement(ctx context.Context, id string) error

		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		// QueryAssignments orders by `orderings` (API field names), newest first by default.
		QueryAssignments(ctx context.Context, classID string, orderings ...core.DBOrdering) ([]Assignment, error)
		// DeleteAssignment removes the assignment with its submissions atomically.
		DeleteAssignment(ctx context.Context, id string) error

		// CreateSubmission is insert-only: ErrAlreadySubmitted if the student already submitted.
		CreateSubmission(ctx context.Context, s Submission) (Submission, error)
		GetSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error)
		// QuerySubmissions returns the assignment submissions, latest first.
		QuerySubmissions(ctx context.Context, assignmentID string) ([]Submission, error)
		// GradeSubmission saves the grading fields and bumps the version.
		GradeSubmission(ctx context.Context, s Submission) (Submission, error)
	}

	Service struct {
		repo     Repository
		broker   realtime.Broker
		guard    inflight.Guard
		mailSvc  core.EmailService
		validate *validator.Validate
		logger   core.Logger
		gen      *codeGenerator
		now      func() time.Time
	}
)

func NewService(
	repo Repository,
	broker realtime.Broker,
	guard inflight.Guard,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		broker:   broker,
		guard:    guard,
		mailSvc:  mailSvc,
		validate: validate,
		logger:   logger,
		gen:      newCodeGenerator(0),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (svc *Service) guarded(ctx context.Context, action string, caller Caller, target string, fn func(ctx context.Context) error) error {
	return svc.guard.Do(ctx, inflight.Key(action, caller.UID, target), fn)
}

// publish reports committed changes; a broker failure never fails the write.
func (svc *Service) publish(ctx context.Context, topic string, kind realtime.Kind, entity, id string, version int64, data interface{}) {
	e, err := realtime.NewEvent(topic, kind, entity, id, version, data)
	if err == nil {
		err = svc.broker.Publish(ctx, e)
	}
	if err != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s %s event: %v", entity, kind, err), err)
	}
}

func (svc *Service) publishClass(ctx context.Context, kind realtime.Kind, cls Class) {
	var data interface{} = cls
	if kind == realtime.KindRemoved {
		data = nil
	}
	svc.publish(ctx, realtime.ClassTopic(cls.ID), kind, realtime.EntityClass, cls.ID, cls.Version, data)
}

// memberClass fetches the class and checks that caller belongs to it.
func (svc *Service) memberClass(ctx context.Context, caller Caller, classID string) (Class, error) {
	cls, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return Class{}, err
	}
	if !cls.IsMember(caller.UID) {
		return Class{}, ErrPermissionDenied
	}
	return cls, nil
}

// teacherClass fetches the class and checks that caller teaches it.
func (svc *Service) teacherClass(ctx context.Context, caller Caller, classID string) (Class, error) {
	cls, err := svc.memberClass(ctx, caller, classID)
	if err != nil {
		return Class{}, err
	}
	if !IsTeacher(cls, caller.UID) {
		return Class{}, ErrPermissionDenied
	}
	return cls, nil
}

// classAssignment fetches an assignment of the given class.
func (svc *Service) classAssignment(ctx context.Context, classID, id string) (Assignment, error) {
	asg, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if asg.ClassID != classID {
		return Assignment{}, ErrAssignmentNotFound
	}
	return asg, nil
}
