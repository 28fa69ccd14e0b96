package classroom

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/realtime"
)

// CreateAssignment adds an assignment to a class caller teaches.
func (svc *Service) CreateAssignment(ctx context.Context, caller Caller, classID string, na NewAssignment) (Assignment, error) {
	if err := na.Validate(svc.validate); err != nil {
		return Assignment{}, err
	}

	var asg Assignment
	err := svc.guarded(ctx, actionCreateAssignment, caller, classID, func(ctx context.Context) error {
		if _, err := svc.teacherClass(ctx, caller, classID); err != nil {
			return err
		}
		var err error
		asg, err = svc.repo.CreateAssignment(ctx, Assignment{
			ID:          uuid.NewString(),
			ClassID:     classID,
			Title:       na.Title,
			Description: na.Description,
			DueDate:     na.DueDate,
			Points:      *na.Points,
			CreatedBy:   caller.UID,
			CreatedAt:   svc.now(),
			Version:     1,
		})
		return errors.Wrap(err, "creating assignment")
	})
	if err != nil {
		return Assignment{}, err
	}

	svc.publish(ctx, realtime.AssignmentsTopic(classID), realtime.KindAdded, realtime.EntityAssignment, asg.ID, asg.Version, asg)
	return asg, nil
}

// ListAssignments lists the class assignments, newest first unless `orderings` says otherwise.
func (svc *Service) ListAssignments(ctx context.Context, caller Caller, classID string, orderings ...core.DBOrdering) ([]Assignment, error) {
	if _, err := core.MapOrderings(orderings, AssignmentOrderingFields); err != nil {
		return nil, err
	}
	if _, err := svc.memberClass(ctx, caller, classID); err != nil {
		return nil, err
	}
	asgs, err := svc.repo.QueryAssignments(ctx, classID, orderings...)
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	if asgs == nil {
		asgs = []Assignment{}
	}
	return asgs, nil
}

func (svc *Service) GetAssignment(ctx context.Context, caller Caller, classID, id string) (Assignment, error) {
	if _, err := svc.memberClass(ctx, caller, classID); err != nil {
		return Assignment{}, err
	}
	return svc.classAssignment(ctx, classID, id)
}

// DeleteAssignment deletes an assignment and its submissions.
func (svc *Service) DeleteAssignment(ctx context.Context, caller Caller, classID, id string) error {
	var asg Assignment
	err := svc.guarded(ctx, actionDeleteAssignment, caller, id, func(ctx context.Context) error {
		if _, err := svc.teacherClass(ctx, caller, classID); err != nil {
			return err
		}
		var err error
		if asg, err = svc.classAssignment(ctx, classID, id); err != nil {
			return err
		}
		return errors.Wrap(svc.repo.DeleteAssignment(ctx, id), "deleting assignment")
	})
	if err != nil {
		return err
	}

	svc.publish(ctx, realtime.AssignmentsTopic(classID), realtime.KindRemoved, realtime.EntityAssignment, asg.ID, asg.Version+1, nil)
	return nil
}

// Submit records caller's answer to an assignment. A student submits at most once.
func (svc *Service) Submit(ctx context.Context, caller Caller, classID, assignmentID string, ns NewSubmission) (Submission, error) {
	content := core.CleanString(ns.Content)
	if content == "" {
		return Submission{}, core.NewFieldError("content", errEmptySubmission.Error())
	}

	var sub Submission
	err := svc.guarded(ctx, actionSubmit, caller, assignmentID, func(ctx context.Context) error {
		if _, err := svc.memberClass(ctx, caller, classID); err != nil {
			return err
		}
		if _, err := svc.classAssignment(ctx, classID, assignmentID); err != nil {
			return err
		}
		var err error
		sub, err = svc.repo.CreateSubmission(ctx, Submission{
			AssignmentID: assignmentID,
			StudentID:    caller.UID,
			Content:      content,
			StudentName:  caller.DisplayName(),
			StudentEmail: caller.Email,
			Status:       StatusSubmitted,
			SubmittedAt:  svc.now(),
			Version:      1,
		})
		if err != nil {
			if errors.Cause(err) == ErrAlreadySubmitted {
				return core.NewValidationError(ErrAlreadySubmitted)
			}
			return errors.Wrap(err, "creating submission")
		}
		return nil
	})
	if err != nil {
		return Submission{}, err
	}

	svc.publish(ctx, realtime.SubmissionsTopic(assignmentID), realtime.KindAdded, realtime.EntitySubmission, submissionKey(sub), sub.Version, sub)
	return sub, nil
}

// ListSubmissions lists an assignment's submissions, latest first; teachers only.
func (svc *Service) ListSubmissions(ctx context.Context, caller Caller, classID, assignmentID string) ([]Submission, error) {
	if _, err := svc.teacherClass(ctx, caller, classID); err != nil {
		return nil, err
	}
	if _, err := svc.classAssignment(ctx, classID, assignmentID); err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []Submission{}
	}
	return subs, nil
}

// GetOwnSubmission returns caller's submission to an assignment.
func (svc *Service) GetOwnSubmission(ctx context.Context, caller Caller, classID, assignmentID string) (Submission, error) {
	if _, err := svc.memberClass(ctx, caller, classID); err != nil {
		return Submission{}, err
	}
	if _, err := svc.classAssignment(ctx, classID, assignmentID); err != nil {
		return Submission{}, err
	}
	return svc.repo.GetSubmission(ctx, assignmentID, caller.UID)
}

// Grade grades a student's submission and notifies the student by email.
func (svc *Service) Grade(ctx context.Context, caller Caller, classID, assignmentID, studentID string, raw RawGrade) (Submission, error) {
	var (
		sub Submission
		cls Class
		asg Assignment
	)
	err := svc.guarded(ctx, actionGrade, caller, assignmentID+":"+studentID, func(ctx context.Context) error {
		var err error
		if cls, err = svc.teacherClass(ctx, caller, classID); err != nil {
			return err
		}
		if asg, err = svc.classAssignment(ctx, classID, assignmentID); err != nil {
			return err
		}
		grade, err := parseGrade(raw, asg.Points)
		if err != nil {
			return err
		}
		if sub, err = svc.repo.GetSubmission(ctx, assignmentID, studentID); err != nil {
			return err
		}

		now := svc.now()
		maxPoints := asg.Points
		sub.Grade = &grade
		sub.MaxPoints = &maxPoints
		sub.GradedBy = caller.UID
		sub.GradedAt = &now
		sub.Status = StatusGraded
		sub, err = svc.repo.GradeSubmission(ctx, sub)
		return errors.Wrap(err, "grading submission")
	})
	if err != nil {
		return Submission{}, err
	}

	svc.publish(ctx, realtime.SubmissionsTopic(assignmentID), realtime.KindModified, realtime.EntitySubmission, submissionKey(sub), sub.Version, sub)
	svc.notifyGrade(cls, asg, sub, caller)
	return sub, nil
}

// parseGrade accepts a number within [0, maxPoints].
func parseGrade(raw RawGrade, maxPoints float64) (float64, error) {
	invalid := core.NewFieldError("grade", fmt.Sprintf("Please enter a valid grade between 0 and %s", formatPoints(maxPoints)))
	grade, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil || math.IsNaN(grade) || math.IsInf(grade, 0) {
		return 0, invalid
	}
	if grade < 0 || grade > maxPoints {
		return 0, invalid
	}
	return grade, nil
}

// notifyGrade emails the student; delivery is best-effort.
func (svc *Service) notifyGrade(cls Class, asg Assignment, sub Submission, caller Caller) {
	if sub.StudentEmail == "" || sub.Grade == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: sub.StudentName, Address: sub.StudentEmail}},
		Subject:      "Grade Posted",
		TemplateName: "grade_notification",
		TemplateData: GradeNotification{
			AssignmentName: asg.Title,
			Grade:          *sub.Grade,
			MaxPoints:      asg.Points,
			ClassName:      cls.Name,
			TeacherName:    caller.DisplayName(),
		},
	})
}

func submissionKey(sub Submission) string {
	return sub.AssignmentID + ":" + sub.StudentID
}
