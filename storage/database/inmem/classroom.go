package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
)

type classroomRepository struct {
	db *classroomTables
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *DB) *classroomRepository {
	return &classroomRepository{db: db.classroom}
}

func submissionKey(assignmentID, studentID string) string {
	return assignmentID + ":" + studentID
}

func (repo *classroomRepository) CreateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := cls.Clone()
	repo.db.classes[cls.ID] = &stored
	return stored.Clone(), nil
}

func (repo *classroomRepository) GetClass(_ context.Context, id string) (classroom.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	cls, ok := repo.db.classes[id]
	if !ok {
		return classroom.Class{}, classroom.ErrNotFound
	}
	return cls.Clone(), nil
}

func (repo *classroomRepository) QueryClasses(_ context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classes := make([]classroom.Class, 0)
	for _, cls := range repo.db.classes {
		if filter.CreatedBy != "" && cls.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Code != "" && cls.ClassCode != filter.Code {
			continue
		}
		if filter.MemberID != "" {
			m, ok := cls.Members[filter.MemberID]
			if !ok || (len(filter.MemberRoles) > 0 && !hasRole(filter.MemberRoles, m.Role)) {
				continue
			}
		}
		classes = append(classes, cls.Clone())
	}
	sort.Slice(classes, func(i, j int) bool {
		if !classes[i].CreatedAt.Equal(classes[j].CreatedAt) {
			return classes[i].CreatedAt.Before(classes[j].CreatedAt)
		}
		return classes[i].ID < classes[j].ID
	})
	return classes, nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// updateClass applies fn to the stored class then bumps its version.
func (repo *classroomRepository) updateClass(id string, at time.Time, fn func(cls *classroom.Class) error) (classroom.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cls, ok := repo.db.classes[id]
	if !ok {
		return classroom.Class{}, classroom.ErrNotFound
	}
	updated := cls.Clone()
	if err := fn(&updated); err != nil {
		return classroom.Class{}, err
	}
	updated.LastModified = at
	updated.Version++
	repo.db.classes[id] = &updated
	return updated.Clone(), nil
}

func (repo *classroomRepository) AddMember(_ context.Context, classID, uid string, m classroom.Member, at time.Time) (classroom.Class, error) {
	return repo.updateClass(classID, at, func(cls *classroom.Class) error {
		if _, ok := cls.Members[uid]; ok {
			return classroom.ErrAlreadyMember
		}
		cls.Members[uid] = m
		return nil
	})
}

func (repo *classroomRepository) RemoveMember(_ context.Context, classID, uid string, at time.Time) (classroom.Class, error) {
	return repo.updateClass(classID, at, func(cls *classroom.Class) error {
		if _, ok := cls.Members[uid]; !ok {
			return classroom.ErrMemberNotFound
		}
		delete(cls.Members, uid)
		return nil
	})
}

func (repo *classroomRepository) SetMemberRole(_ context.Context, classID, uid, role string, at time.Time) (classroom.Class, error) {
	return repo.updateClass(classID, at, func(cls *classroom.Class) error {
		m, ok := cls.Members[uid]
		if !ok {
			return classroom.ErrMemberNotFound
		}
		m.Role = role
		cls.Members[uid] = m
		return nil
	})
}

func (repo *classroomRepository) TouchClass(_ context.Context, classID string, at time.Time) (classroom.Class, error) {
	return repo.updateClass(classID, at, func(*classroom.Class) error { return nil })
}

func (repo *classroomRepository) DeleteClass(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[id]; !ok {
		return classroom.ErrNotFound
	}
	for annID, ann := range repo.db.announcements {
		if ann.ClassID == id {
			delete(repo.db.announcements, annID)
		}
	}
	for asgID, asg := range repo.db.assignments {
		if asg.ClassID == id {
			repo.deleteSubmissions(asgID)
			delete(repo.db.assignments, asgID)
		}
	}
	delete(repo.db.classes, id)
	return nil
}

func (repo *classroomRepository) CreateAnnouncement(_ context.Context, a classroom.Announcement) (classroom.Announcement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[a.ClassID]; !ok {
		return classroom.Announcement{}, classroom.ErrNotFound
	}
	repo.db.announcements[a.ID] = &a
	return a, nil
}

func (repo *classroomRepository) GetAnnouncement(_ context.Context, id string) (classroom.Announcement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	a, ok := repo.db.announcements[id]
	if !ok {
		return classroom.Announcement{}, classroom.ErrAnnouncementNotFound
	}
	return *a, nil
}

func (repo *classroomRepository) QueryAnnouncements(_ context.Context, classID string) ([]classroom.Announcement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	anns := make([]classroom.Announcement, 0)
	for _, a := range repo.db.announcements {
		if a.ClassID == classID {
			anns = append(anns, *a)
		}
	}
	sort.Slice(anns, func(i, j int) bool {
		if !anns[i].CreatedAt.Equal(anns[j].CreatedAt) {
			return anns[i].CreatedAt.After(anns[j].CreatedAt)
		}
		return anns[i].ID > anns[j].ID
	})
	return anns, nil
}

func (repo *classroomRepository) DeleteAnnouncement(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.announcements[id]; !ok {
		return classroom.ErrAnnouncementNotFound
	}
	delete(repo.db.announcements, id)
	return nil
}

func (repo *classroomRepository) CreateAssignment(_ context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[a.ClassID]; !ok {
		return classroom.Assignment{}, classroom.ErrNotFound
	}
	repo.db.assignments[a.ID] = &a
	return a, nil
}

func (repo *classroomRepository) GetAssignment(_ context.Context, id string) (classroom.Assignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	a, ok := repo.db.assignments[id]
	if !ok {
		return classroom.Assignment{}, classroom.ErrAssignmentNotFound
	}
	return *a, nil
}

func (repo *classroomRepository) QueryAssignments(_ context.Context, classID string, orderings ...core.DBOrdering) ([]classroom.Assignment, error) {
	if _, err := core.MapOrderings(orderings, classroom.AssignmentOrderingFields); err != nil {
		return nil, err
	}
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "createdAt"}}
	}

	repo.db.RLock()
	defer repo.db.RUnlock()

	asgs := make([]classroom.Assignment, 0)
	for _, a := range repo.db.assignments {
		if a.ClassID == classID {
			asgs = append(asgs, *a)
		}
	}
	sort.Slice(asgs, func(i, j int) bool {
		for _, ord := range orderings {
			c := compareAssignments(asgs[i], asgs[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return asgs[i].ID < asgs[j].ID
	})
	return asgs, nil
}

// compareAssignments compares a and b on field; a nil due date sorts last ascending.
func compareAssignments(a, b classroom.Assignment, field string) int {
	switch field {
	case "createdAt":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "dueDate":
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return 0
		case a.DueDate == nil:
			return 1
		case b.DueDate == nil:
			return -1
		}
		return compareTimes(*a.DueDate, *b.DueDate)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "points":
		switch {
		case a.Points < b.Points:
			return -1
		case a.Points > b.Points:
			return 1
		}
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (repo *classroomRepository) DeleteAssignment(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.assignments[id]; !ok {
		return classroom.ErrAssignmentNotFound
	}
	repo.deleteSubmissions(id)
	delete(repo.db.assignments, id)
	return nil
}

// deleteSubmissions must be called with the write lock held.
func (repo *classroomRepository) deleteSubmissions(assignmentID string) {
	for key, s := range repo.db.submissions {
		if s.AssignmentID == assignmentID {
			delete(repo.db.submissions, key)
		}
	}
}

func (repo *classroomRepository) CreateSubmission(_ context.Context, s classroom.Submission) (classroom.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.assignments[s.AssignmentID]; !ok {
		return classroom.Submission{}, classroom.ErrAssignmentNotFound
	}
	key := submissionKey(s.AssignmentID, s.StudentID)
	if _, ok := repo.db.submissions[key]; ok {
		return classroom.Submission{}, classroom.ErrAlreadySubmitted
	}
	repo.db.submissions[key] = &s
	return s, nil
}

func (repo *classroomRepository) GetSubmission(_ context.Context, assignmentID, studentID string) (classroom.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	s, ok := repo.db.submissions[submissionKey(assignmentID, studentID)]
	if !ok {
		return classroom.Submission{}, classroom.ErrSubmissionNotFound
	}
	return *s, nil
}

func (repo *classroomRepository) QuerySubmissions(_ context.Context, assignmentID string) ([]classroom.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]classroom.Submission, 0)
	for _, s := range repo.db.submissions {
		if s.AssignmentID == assignmentID {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
		}
		return subs[i].StudentID < subs[j].StudentID
	})
	return subs, nil
}

func (repo *classroomRepository) GradeSubmission(_ context.Context, s classroom.Submission) (classroom.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := submissionKey(s.AssignmentID, s.StudentID)
	stored, ok := repo.db.submissions[key]
	if !ok {
		return classroom.Submission{}, classroom.ErrSubmissionNotFound
	}
	graded := *stored
	graded.Grade = s.Grade
	graded.MaxPoints = s.MaxPoints
	graded.GradedBy = s.GradedBy
	graded.GradedAt = s.GradedAt
	graded.Status = s.Status
	graded.Version++
	repo.db.submissions[key] = &graded
	return graded, nil
}
