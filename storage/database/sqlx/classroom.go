package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
)

const (
	classColumns        = `id, name, section, subject, teacher, class_code, color, created_by, created_at, last_modified, version`
	memberColumns       = `class_id, user_id, role, name, email, photo_url, joined`
	announcementColumns = `id, class_id, content, author_id, author_name, author_photo, created_at, version`
	assignmentColumns   = `id, class_id, title, description, due_date, points, created_by, created_at, version`
	submissionColumns   = `assignment_id, student_id, content, student_name, student_email, status, submitted_at, grade, max_points, graded_by, graded_at, version`
)

type (
	classRow struct {
		ID           string    `db:"id"`
		Name         string    `db:"name"`
		Section      string    `db:"section"`
		Subject      string    `db:"subject"`
		Teacher      string    `db:"teacher"`
		ClassCode    string    `db:"class_code"`
		Color        string    `db:"color"`
		CreatedBy    string    `db:"created_by"`
		CreatedAt    time.Time `db:"created_at"`
		LastModified time.Time `db:"last_modified"`
		Version      int64     `db:"version"`
	}

	memberRow struct {
		ClassID  string      `db:"class_id"`
		UserID   string      `db:"user_id"`
		Role     string      `db:"role"`
		Name     string      `db:"name"`
		Email    string      `db:"email"`
		PhotoURL null.String `db:"photo_url"`
		Joined   time.Time   `db:"joined"`
	}

	announcementRow struct {
		ID          string      `db:"id"`
		ClassID     string      `db:"class_id"`
		Content     string      `db:"content"`
		AuthorID    string      `db:"author_id"`
		AuthorName  string      `db:"author_name"`
		AuthorPhoto null.String `db:"author_photo"`
		CreatedAt   time.Time   `db:"created_at"`
		Version     int64       `db:"version"`
	}

	assignmentRow struct {
		ID          string    `db:"id"`
		ClassID     string    `db:"class_id"`
		Title       string    `db:"title"`
		Description string    `db:"description"`
		DueDate     null.Time `db:"due_date"`
		Points      float64   `db:"points"`
		CreatedBy   string    `db:"created_by"`
		CreatedAt   time.Time `db:"created_at"`
		Version     int64     `db:"version"`
	}

	submissionRow struct {
		AssignmentID string       `db:"assignment_id"`
		StudentID    string       `db:"student_id"`
		Content      string       `db:"content"`
		StudentName  string       `db:"student_name"`
		StudentEmail string       `db:"student_email"`
		Status       string       `db:"status"`
		SubmittedAt  time.Time    `db:"submitted_at"`
		Grade        null.Float64 `db:"grade"`
		MaxPoints    null.Float64 `db:"max_points"`
		GradedBy     null.String  `db:"graded_by"`
		GradedAt     null.Time    `db:"graded_at"`
		Version      int64        `db:"version"`
	}
)

func toClassRow(cls classroom.Class) classRow {
	return classRow{
		ID:           cls.ID,
		Name:         cls.Name,
		Section:      cls.Section,
		Subject:      cls.Subject,
		Teacher:      cls.Teacher,
		ClassCode:    cls.ClassCode,
		Color:        cls.Color,
		CreatedBy:    cls.CreatedBy,
		CreatedAt:    cls.CreatedAt.UTC(),
		LastModified: cls.LastModified.UTC(),
		Version:      cls.Version,
	}
}

func (r classRow) class(members []memberRow) classroom.Class {
	cls := classroom.Class{
		ID:           r.ID,
		Name:         r.Name,
		Section:      r.Section,
		Subject:      r.Subject,
		Teacher:      r.Teacher,
		ClassCode:    strings.TrimSpace(r.ClassCode),
		Color:        strings.TrimSpace(r.Color),
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt.UTC(),
		LastModified: r.LastModified.UTC(),
		Version:      r.Version,
		Members:      make(map[string]classroom.Member, len(members)),
	}
	for _, m := range members {
		cls.Members[m.UserID] = classroom.Member{
			Role:     m.Role,
			Name:     m.Name,
			Email:    m.Email,
			PhotoURL: m.PhotoURL.String,
			Joined:   m.Joined.UTC(),
		}
	}
	return cls
}

func toMemberRow(classID, uid string, m classroom.Member) memberRow {
	return memberRow{
		ClassID:  classID,
		UserID:   uid,
		Role:     m.Role,
		Name:     m.Name,
		Email:    m.Email,
		PhotoURL: null.NewString(m.PhotoURL, m.PhotoURL != ""),
		Joined:   m.Joined.UTC(),
	}
}

func (r announcementRow) announcement() classroom.Announcement {
	return classroom.Announcement{
		ID:          r.ID,
		ClassID:     r.ClassID,
		Content:     r.Content,
		AuthorID:    r.AuthorID,
		AuthorName:  r.AuthorName,
		AuthorPhoto: r.AuthorPhoto.String,
		CreatedAt:   r.CreatedAt.UTC(),
		Version:     r.Version,
	}
}

func (r assignmentRow) assignment() classroom.Assignment {
	asg := classroom.Assignment{
		ID:          r.ID,
		ClassID:     r.ClassID,
		Title:       r.Title,
		Description: r.Description,
		Points:      r.Points,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		Version:     r.Version,
	}
	if r.DueDate.Valid {
		due := r.DueDate.Time.UTC()
		asg.DueDate = &due
	}
	return asg
}

func toSubmissionRow(s classroom.Submission) submissionRow {
	return submissionRow{
		AssignmentID: s.AssignmentID,
		StudentID:    s.StudentID,
		Content:      s.Content,
		StudentName:  s.StudentName,
		StudentEmail: s.StudentEmail,
		Status:       s.Status,
		SubmittedAt:  s.SubmittedAt.UTC(),
		Grade:        null.Float64FromPtr(s.Grade),
		MaxPoints:    null.Float64FromPtr(s.MaxPoints),
		GradedBy:     null.NewString(s.GradedBy, s.GradedBy != ""),
		GradedAt:     null.TimeFromPtr(s.GradedAt),
		Version:      s.Version,
	}
}

func (r submissionRow) submission() classroom.Submission {
	s := classroom.Submission{
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		Content:      r.Content,
		StudentName:  r.StudentName,
		StudentEmail: r.StudentEmail,
		Status:       r.Status,
		SubmittedAt:  r.SubmittedAt.UTC(),
		Grade:        r.Grade.Ptr(),
		MaxPoints:    r.MaxPoints.Ptr(),
		GradedBy:     r.GradedBy.String,
		Version:      r.Version,
	}
	if r.GradedAt.Valid {
		at := r.GradedAt.Time.UTC()
		s.GradedAt = &at
	}
	return s
}

type classroomRepository struct {
	db *sqlx.DB
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *sqlx.DB) *classroomRepository {
	return &classroomRepository{db: db}
}

// loadMembers fetches the members of the given classes, grouped by class id.
func (repo classroomRepository) loadMembers(ctx context.Context, q sqlx.QueryerContext, classIDs ...string) (map[string][]memberRow, error) {
	grouped := make(map[string][]memberRow, len(classIDs))
	if len(classIDs) == 0 {
		return grouped, nil
	}
	var rows []memberRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT `+memberColumns+` FROM class_member WHERE class_id = ANY($1) ORDER BY joined, user_id`, pq.Array(classIDs))
	if err != nil {
		return nil, errors.Wrap(err, "selecting class members")
	}
	for _, m := range rows {
		grouped[m.ClassID] = append(grouped[m.ClassID], m)
	}
	return grouped, nil
}

func (repo classroomRepository) CreateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO class (` + classColumns + `)
			VALUES (:id, :name, :section, :subject, :teacher, :class_code, :color, :created_by, :created_at, :last_modified, :version)`
		if _, err := tx.NamedExecContext(ctx, q, toClassRow(cls)); err != nil {
			return errors.Wrap(err, "inserting class")
		}
		for uid, m := range cls.Members {
			if err := insertMember(ctx, tx, cls.ID, uid, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classroom.Class{}, err
	}
	return cls.Clone(), nil
}

func insertMember(ctx context.Context, tx *sqlx.Tx, classID, uid string, m classroom.Member) error {
	q := `INSERT INTO class_member (` + memberColumns + `)
		VALUES (:class_id, :user_id, :role, :name, :email, :photo_url, :joined)`
	if _, err := tx.NamedExecContext(ctx, q, toMemberRow(classID, uid, m)); err != nil {
		if isUniqueViolation(err) {
			return classroom.ErrAlreadyMember
		}
		return errors.Wrap(err, "inserting class member")
	}
	return nil
}

func (repo classroomRepository) GetClass(ctx context.Context, id string) (classroom.Class, error) {
	var row classRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+classColumns+` FROM class WHERE id = $1`, id); err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrNotFound, "selecting class")
	}
	members, err := repo.loadMembers(ctx, repo.db, id)
	if err != nil {
		return classroom.Class{}, err
	}
	return row.class(members[id]), nil
}

func (repo classroomRepository) QueryClasses(ctx context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.Code != "" {
		conds = append(conds, "class_code = ?")
		args = append(args, filter.Code)
	}
	if filter.MemberID != "" {
		if len(filter.MemberRoles) > 0 {
			conds = append(conds, "id IN (SELECT class_id FROM class_member WHERE user_id = ? AND role = ANY(?))")
			args = append(args, filter.MemberID, pq.Array(filter.MemberRoles))
		} else {
			conds = append(conds, "id IN (SELECT class_id FROM class_member WHERE user_id = ?)")
			args = append(args, filter.MemberID)
		}
	}

	q := `SELECT ` + classColumns + ` FROM class`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at, id"

	var rows []classRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting classes")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	members, err := repo.loadMembers(ctx, repo.db, ids...)
	if err != nil {
		return nil, err
	}
	classes := make([]classroom.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.class(members[r.ID]))
	}
	return classes, nil
}

// bumpClass bumps the class version and lastModified, then reloads it with its members.
func (repo classroomRepository) bumpClass(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) (classroom.Class, error) {
	var row classRow
	err := tx.GetContext(ctx, &row,
		`UPDATE class SET version = version + 1, last_modified = $2 WHERE id = $1 RETURNING `+classColumns, id, at.UTC())
	if err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrNotFound, "updating class")
	}
	members, err := repo.loadMembers(ctx, tx, id)
	if err != nil {
		return classroom.Class{}, err
	}
	return row.class(members[id]), nil
}

// mutateClass runs fn then bumps the class, atomically.
func (repo classroomRepository) mutateClass(ctx context.Context, id string, at time.Time, fn func(tx *sqlx.Tx) error) (classroom.Class, error) {
	var cls classroom.Class
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// lock the class row first so concurrent member changes serialize
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT true FROM class WHERE id = $1 FOR UPDATE`, id); err != nil {
			return trapNoRowsErr(err, classroom.ErrNotFound, "locking class")
		}
		if err := fn(tx); err != nil {
			return err
		}
		var err error
		cls, err = repo.bumpClass(ctx, tx, id, at)
		return err
	})
	return cls, err
}

func (repo classroomRepository) AddMember(ctx context.Context, classID, uid string, m classroom.Member, at time.Time) (classroom.Class, error) {
	return repo.mutateClass(ctx, classID, at, func(tx *sqlx.Tx) error {
		return insertMember(ctx, tx, classID, uid, m)
	})
}

func (repo classroomRepository) RemoveMember(ctx context.Context, classID, uid string, at time.Time) (classroom.Class, error) {
	return repo.mutateClass(ctx, classID, at, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM class_member WHERE class_id = $1 AND user_id = $2`, classID, uid)
		if err != nil {
			return errors.Wrap(err, "deleting class member")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classroom.ErrMemberNotFound
		}
		return nil
	})
}

func (repo classroomRepository) SetMemberRole(ctx context.Context, classID, uid, role string, at time.Time) (classroom.Class, error) {
	return repo.mutateClass(ctx, classID, at, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE class_member SET role = $3 WHERE class_id = $1 AND user_id = $2`, classID, uid, role)
		if err != nil {
			return errors.Wrap(err, "updating member role")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classroom.ErrMemberNotFound
		}
		return nil
	})
}

func (repo classroomRepository) TouchClass(ctx context.Context, classID string, at time.Time) (classroom.Class, error) {
	var cls classroom.Class
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var err error
		cls, err = repo.bumpClass(ctx, tx, classID, at)
		return err
	})
	return cls, err
}

func (repo classroomRepository) DeleteClass(ctx context.Context, id string) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		stmts := []struct{ q, what string }{
			{`DELETE FROM submission WHERE assignment_id IN (SELECT id FROM assignment WHERE class_id = $1)`, "deleting submissions"},
			{`DELETE FROM assignment WHERE class_id = $1`, "deleting assignments"},
			{`DELETE FROM announcement WHERE class_id = $1`, "deleting announcements"},
			{`DELETE FROM class_member WHERE class_id = $1`, "deleting class members"},
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt.q, id); err != nil {
				return errors.Wrap(err, stmt.what)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM class WHERE id = $1`, id)
		if err != nil {
			return errors.Wrap(err, "deleting class")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classroom.ErrNotFound
		}
		return nil
	})
}

func (repo classroomRepository) CreateAnnouncement(ctx context.Context, a classroom.Announcement) (classroom.Announcement, error) {
	q := `INSERT INTO announcement (` + announcementColumns + `)
		VALUES (:id, :class_id, :content, :author_id, :author_name, :author_photo, :created_at, :version)`
	row := announcementRow{
		ID:          a.ID,
		ClassID:     a.ClassID,
		Content:     a.Content,
		AuthorID:    a.AuthorID,
		AuthorName:  a.AuthorName,
		AuthorPhoto: null.NewString(a.AuthorPhoto, a.AuthorPhoto != ""),
		CreatedAt:   a.CreatedAt.UTC(),
		Version:     a.Version,
	}
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return classroom.Announcement{}, errors.Wrap(err, "inserting announcement")
	}
	return row.announcement(), nil
}

func (repo classroomRepository) GetAnnouncement(ctx context.Context, id string) (classroom.Announcement, error) {
	var row announcementRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+announcementColumns+` FROM announcement WHERE id = $1`, id); err != nil {
		return classroom.Announcement{}, trapNoRowsErr(err, classroom.ErrAnnouncementNotFound, "selecting announcement")
	}
	return row.announcement(), nil
}

func (repo classroomRepository) QueryAnnouncements(ctx context.Context, classID string) ([]classroom.Announcement, error) {
	var rows []announcementRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+announcementColumns+` FROM announcement WHERE class_id = $1 ORDER BY created_at DESC, id DESC`, classID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting announcements")
	}
	anns := make([]classroom.Announcement, 0, len(rows))
	for _, r := range rows {
		anns = append(anns, r.announcement())
	}
	return anns, nil
}

func (repo classroomRepository) DeleteAnnouncement(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM announcement WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting announcement")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classroom.ErrAnnouncementNotFound
	}
	return nil
}

func (repo classroomRepository) CreateAssignment(ctx context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	q := `INSERT INTO assignment (` + assignmentColumns + `)
		VALUES (:id, :class_id, :title, :description, :due_date, :points, :created_by, :created_at, :version)`
	row := assignmentRow{
		ID:          a.ID,
		ClassID:     a.ClassID,
		Title:       a.Title,
		Description: a.Description,
		DueDate:     null.TimeFromPtr(a.DueDate),
		Points:      a.Points,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt.UTC(),
		Version:     a.Version,
	}
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return classroom.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return row.assignment(), nil
}

func (repo classroomRepository) GetAssignment(ctx context.Context, id string) (classroom.Assignment, error) {
	var row assignmentRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+assignmentColumns+` FROM assignment WHERE id = $1`, id); err != nil {
		return classroom.Assignment{}, trapNoRowsErr(err, classroom.ErrAssignmentNotFound, "selecting assignment")
	}
	return row.assignment(), nil
}

func (repo classroomRepository) QueryAssignments(ctx context.Context, classID string, orderings ...core.DBOrdering) ([]classroom.Assignment, error) {
	ords, err := core.MapOrderings(orderings, classroom.AssignmentOrderingFields)
	if err != nil {
		return nil, err
	}
	if len(ords) == 0 {
		ords = []core.DBOrdering{{Field: "created_at"}}
	}
	orderBy := make([]string, 0, len(ords)+1)
	for _, ord := range ords {
		orderBy = append(orderBy, ord.String())
	}
	orderBy = append(orderBy, "id")

	var rows []assignmentRow
	q := `SELECT ` + assignmentColumns + ` FROM assignment WHERE class_id = $1 ORDER BY ` + strings.Join(orderBy, ", ")
	if err := repo.db.SelectContext(ctx, &rows, q, classID); err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}
	asgs := make([]classroom.Assignment, 0, len(rows))
	for _, r := range rows {
		asgs = append(asgs, r.assignment())
	}
	return asgs, nil
}

func (repo classroomRepository) DeleteAssignment(ctx context.Context, id string) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM submission WHERE assignment_id = $1`, id); err != nil {
			return errors.Wrap(err, "deleting submissions")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assignment WHERE id = $1`, id)
		if err != nil {
			return errors.Wrap(err, "deleting assignment")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classroom.ErrAssignmentNotFound
		}
		return nil
	})
}

func (repo classroomRepository) CreateSubmission(ctx context.Context, s classroom.Submission) (classroom.Submission, error) {
	q := `INSERT INTO submission (` + submissionColumns + `)
		VALUES (:assignment_id, :student_id, :content, :student_name, :student_email, :status, :submitted_at,
		        :grade, :max_points, :graded_by, :graded_at, :version)`
	row := toSubmissionRow(s)
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return classroom.Submission{}, classroom.ErrAlreadySubmitted
		}
		return classroom.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return row.submission(), nil
}

func (repo classroomRepository) GetSubmission(ctx context.Context, assignmentID, studentID string) (classroom.Submission, error) {
	var row submissionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+submissionColumns+` FROM submission WHERE assignment_id = $1 AND student_id = $2`, assignmentID, studentID)
	if err != nil {
		return classroom.Submission{}, trapNoRowsErr(err, classroom.ErrSubmissionNotFound, "selecting submission")
	}
	return row.submission(), nil
}

func (repo classroomRepository) QuerySubmissions(ctx context.Context, assignmentID string) ([]classroom.Submission, error) {
	var rows []submissionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+submissionColumns+` FROM submission WHERE assignment_id = $1 ORDER BY submitted_at DESC, student_id`, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	subs := make([]classroom.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.submission())
	}
	return subs, nil
}

func (repo classroomRepository) GradeSubmission(ctx context.Context, s classroom.Submission) (classroom.Submission, error) {
	q := `UPDATE submission SET grade = $3, max_points = $4, graded_by = $5, graded_at = $6, status = $7, version = version + 1
		WHERE assignment_id = $1 AND student_id = $2
		RETURNING ` + submissionColumns
	row := toSubmissionRow(s)
	var updated submissionRow
	err := repo.db.GetContext(ctx, &updated, q,
		row.AssignmentID, row.StudentID, row.Grade, row.MaxPoints, row.GradedBy, row.GradedAt, row.Status)
	if err != nil {
		return classroom.Submission{}, trapNoRowsErr(err, classroom.ErrSubmissionNotFound, "grading submission")
	}
	return updated.submission(), nil
}
