// Package classview drives the live class page: one websocket per open class, fed with snapshots on
// entry and with change events afterwards.
package classview

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/realtime"
)

const writeWait = 10 * time.Second

var (
	ErrMissingDependency = errors.New("classview: missing dependency")

	errInvalidFrame  = errors.New("invalid frame")
	errUnknownFrame  = errors.New("unknown frame type")
	errNotAMember    = errors.New("You are no longer a member of this class.")
	errClassNotFound = errors.New("Class not found")
	errAccessDenied  = errors.New("You don't have access to this class")
	errTeachersOnly  = errors.New("Only teachers can view submissions")

	// errStop ends the session without reporting a failure.
	errStop = errors.New("session stopped")
)

type (
	// Conn is the subset of *websocket.Conn a Session needs.
	Conn interface {
		ReadJSON(v interface{}) error
		WriteJSON(v interface{}) error
		WriteControl(messageType int, data []byte, deadline time.Time) error
		SetWriteDeadline(t time.Time) error
		Close() error
	}

	ClassService interface {
		GetClass(ctx context.Context, caller classroom.Caller, id string) (classroom.Class, error)
		ListAnnouncements(ctx context.Context, caller classroom.Caller, classID string) ([]classroom.Announcement, error)
		ListAssignments(ctx context.Context, caller classroom.Caller, classID string, orderings ...core.DBOrdering) ([]classroom.Assignment, error)
		ListSubmissions(ctx context.Context, caller classroom.Caller, classID, assignmentID string) ([]classroom.Submission, error)
	}

	Deps struct {
		Conn     Conn
		Service  ClassService
		Broker   realtime.Broker
		Validate *validator.Validate
		Logger   core.Logger
		Caller   classroom.Caller
		ClassID  string
	}

	// Session is the state machine behind one open class page. Every field below is owned by the Run
	// goroutine.
	Session struct {
		conn     Conn
		svc      ClassService
		broker   realtime.Broker
		validate *validator.Validate
		logger   core.Logger
		caller   classroom.Caller
		classID  string

		mirror   *realtime.Mirror
		tab      string
		class    classroom.Class
		watched  string
		watchSub realtime.Subscription
	}

	inbound struct {
		frame ClientFrame
		err   error
	}
)

var _ ClassService = (*classroom.Service)(nil) // interface compliance check

func NewSession(deps Deps) (*Session, error) {
	switch {
	case deps.Conn == nil:
		return nil, errors.Wrap(ErrMissingDependency, "conn")
	case deps.Service == nil:
		return nil, errors.Wrap(ErrMissingDependency, "class service")
	case deps.Broker == nil:
		return nil, errors.Wrap(ErrMissingDependency, "broker")
	case deps.Validate == nil:
		return nil, errors.Wrap(ErrMissingDependency, "validator")
	case deps.Logger == nil:
		return nil, errors.Wrap(ErrMissingDependency, "logger")
	case deps.Caller.UID == "" || deps.ClassID == "":
		return nil, errors.Wrap(ErrMissingDependency, "caller or class id")
	}
	return &Session{
		conn:     deps.Conn,
		svc:      deps.Service,
		broker:   deps.Broker,
		validate: deps.Validate,
		logger:   deps.Logger,
		caller:   deps.Caller,
		classID:  deps.ClassID,
		mirror:   realtime.NewMirror(),
		tab:      TabStream,
	}, nil
}

// Run serves the page until the client leaves, the class goes away or ctx is done. The connection is
// always closed on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = s.conn.Close() }()
	defer s.unwatch()

	if _, err := s.svc.GetClass(ctx, s.caller, s.classID); err != nil {
		return s.reject(err)
	}

	sub, err := s.broker.Subscribe(
		ctx,
		realtime.ClassTopic(s.classID),
		realtime.AnnouncementsTopic(s.classID),
		realtime.AssignmentsTopic(s.classID),
	)
	if err != nil {
		return errors.Wrap(err, "subscribing to class topics")
	}
	defer func() { _ = sub.Close() }()

	// every snapshot, the class included, is read after subscribing so that no change falls in
	// between; the mirror drops the events they already account for.
	cls, err := s.svc.GetClass(ctx, s.caller, s.classID)
	if err != nil {
		return s.reject(err)
	}
	s.class = cls

	if err := s.sendSnapshots(ctx); err != nil {
		return ignoreStop(err)
	}

	frames := make(chan inbound)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, frames, readErr)

	for {
		var watchEvents <-chan realtime.Event
		if s.watchSub != nil {
			watchEvents = s.watchSub.Events()
		}

		select {
		case <-ctx.Done():
			s.closeWith(websocket.CloseGoingAway, "")
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return errors.Wrap(err, "reading frame")
		case in := <-frames:
			err = s.handleFrame(ctx, in)
		case e, ok := <-sub.Events():
			if !ok {
				s.closeWith(websocket.CloseGoingAway, "")
				return nil
			}
			err = s.handleEvent(ctx, e)
		case e, ok := <-watchEvents:
			if !ok {
				s.unwatch()
				continue
			}
			err = s.handleEvent(ctx, e)
		}
		if err != nil {
			return ignoreStop(err)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, frames chan<- inbound, readErr chan<- error) {
	for {
		var f ClientFrame
		err := s.conn.ReadJSON(&f)
		var (
			synErr  *json.SyntaxError
			typeErr *json.UnmarshalTypeError
		)
		if err != nil && !errors.As(err, &synErr) && !errors.As(err, &typeErr) {
			readErr <- err
			return
		}
		select {
		case frames <- inbound{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// reject answers a failed entry check with an error frame and a policy violation close.
func (s *Session) reject(err error) error {
	msg := errAccessDenied.Error()
	switch errors.Cause(err) {
	case classroom.ErrNotFound:
		msg = errClassNotFound.Error()
	case classroom.ErrPermissionDenied:
	default:
		s.logger.Error("classview: loading class: "+err.Error(), err)
	}
	_ = s.write(ServerFrame{Type: FrameError, Error: msg})
	s.closeWith(websocket.ClosePolicyViolation, msg)
	return err
}

func (s *Session) sendSnapshots(ctx context.Context) error {
	s.mirror.Seed(realtime.EntityClass, s.class.ID, s.class.Version)
	if err := s.sendClass(0); err != nil {
		return err
	}
	if err := s.sendAnnouncements(ctx); err != nil {
		return err
	}
	return s.sendTab(ctx)
}

// sendAnnouncements pushes the whole feed, with canDelete computed for the caller's current role.
func (s *Session) sendAnnouncements(ctx context.Context) error {
	anns, err := s.svc.ListAnnouncements(ctx, s.caller, s.classID)
	if err != nil {
		return errors.Wrap(err, "listing announcements")
	}
	for _, ann := range anns {
		s.mirror.Seed(realtime.EntityAnnouncement, ann.ID, ann.Version)
	}
	return s.writeData(ServerFrame{Type: FrameAnnouncements}, anns)
}

// sendClass pushes the class header and the people list; version is 0 for snapshots.
func (s *Session) sendClass(version int64) error {
	f := ServerFrame{Type: FrameClass, ID: s.class.ID, Version: version}
	if version > 0 {
		f.Kind = realtime.KindModified
	}
	if err := s.writeData(f, s.class); err != nil {
		return err
	}
	return s.writeData(ServerFrame{Type: FrameMembers, ID: s.class.ID}, Members(s.class))
}

// sendTab confirms the current tab, along with the assignment list on the classwork tab.
func (s *Session) sendTab(ctx context.Context) error {
	if err := s.write(ServerFrame{Type: FrameTab, Tab: s.tab}); err != nil {
		return err
	}
	if s.tab != TabClasswork {
		return nil
	}
	asgs, err := s.svc.ListAssignments(ctx, s.caller, s.classID)
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	for _, asg := range asgs {
		s.mirror.Seed(realtime.EntityAssignment, asg.ID, asg.Version)
	}
	return s.writeData(ServerFrame{Type: FrameAssignments}, asgs)
}

func (s *Session) handleFrame(ctx context.Context, in inbound) error {
	if in.err != nil {
		return s.writeError(errInvalidFrame)
	}

	f := in.frame
	switch f.Type {
	case FrameTab:
		if f.Tab == "" || s.validate.Struct(f) != nil {
			return s.writeError(errors.New(tabText))
		}
		s.tab = f.Tab
		return s.sendTab(ctx)

	case FrameWatchSubmissions:
		return s.watch(ctx, f.AssignmentID)

	case FrameUnwatchSubmissions:
		s.unwatch()
		return nil

	default:
		return s.writeError(errUnknownFrame)
	}
}

// watch follows the submissions of one assignment, replacing any previous watch.
func (s *Session) watch(ctx context.Context, assignmentID string) error {
	if !classroom.IsTeacher(s.class, s.caller.UID) {
		return s.writeError(errTeachersOnly)
	}
	if assignmentID == "" {
		return s.writeError(errInvalidFrame)
	}
	s.unwatch()

	sub, err := s.broker.Subscribe(ctx, realtime.SubmissionsTopic(assignmentID))
	if err != nil {
		return errors.Wrap(err, "subscribing to submissions")
	}
	subs, err := s.svc.ListSubmissions(ctx, s.caller, s.classID, assignmentID)
	if err != nil {
		_ = sub.Close()
		switch errors.Cause(err) {
		case classroom.ErrAssignmentNotFound, classroom.ErrPermissionDenied:
			return s.writeError(errors.Cause(err))
		}
		return errors.Wrap(err, "listing submissions")
	}

	s.watched, s.watchSub = assignmentID, sub
	for _, sb := range subs {
		s.mirror.Seed(realtime.EntitySubmission, submissionKey(sb), sb.Version)
	}
	return s.writeData(ServerFrame{Type: FrameSubmissions, AssignmentID: assignmentID}, subs)
}

func (s *Session) unwatch() {
	if s.watchSub != nil {
		_ = s.watchSub.Close()
	}
	s.watched, s.watchSub = "", nil
}

func (s *Session) handleEvent(ctx context.Context, e realtime.Event) error {
	if !s.mirror.Apply(e) {
		return nil
	}

	switch e.Entity {
	case realtime.EntityClass:
		return s.classChanged(ctx, e)

	case realtime.EntityAnnouncement:
		f := deltaFrame(FrameAnnouncement, e)
		if e.Kind == realtime.KindRemoved {
			return s.write(f)
		}
		var ann classroom.Announcement
		if err := json.Unmarshal(e.Data, &ann); err != nil {
			return errors.Wrap(err, "decoding announcement event")
		}
		ann.CanDelete = classroom.CanDeleteAnnouncement(s.class, ann, s.caller.UID)
		return s.writeData(f, ann)

	case realtime.EntityAssignment:
		if s.tab != TabClasswork {
			return nil
		}
		f := deltaFrame(FrameAssignment, e)
		f.Data = e.Data
		return s.write(f)

	case realtime.EntitySubmission:
		if e.Topic != realtime.SubmissionsTopic(s.watched) {
			return nil
		}
		f := deltaFrame(FrameSubmission, e)
		f.AssignmentID = s.watched
		f.Data = e.Data
		return s.write(f)
	}
	return nil
}

func (s *Session) classChanged(ctx context.Context, e realtime.Event) error {
	if e.Kind == realtime.KindRemoved {
		_ = s.write(deltaFrame(FrameClassRemoved, e))
		s.closeWith(websocket.CloseNormalClosure, "class deleted")
		return errStop
	}

	var cls classroom.Class
	if err := json.Unmarshal(e.Data, &cls); err != nil {
		return errors.Wrap(err, "decoding class event")
	}
	if !cls.IsMember(s.caller.UID) {
		_ = s.writeError(errNotAMember)
		s.closeWith(websocket.ClosePolicyViolation, errNotAMember.Error())
		return errStop
	}

	wasTeacher := classroom.IsTeacher(s.class, s.caller.UID)
	s.class = cls.ViewFor(s.caller.UID)
	if wasTeacher && !s.class.IsTeacher {
		s.unwatch()
	}
	if err := s.sendClass(e.Version); err != nil {
		return err
	}
	// canDelete depends on the role
	if wasTeacher != s.class.IsTeacher {
		return s.sendAnnouncements(ctx)
	}
	return nil
}

func (s *Session) writeError(err error) error {
	return s.write(ServerFrame{Type: FrameError, Error: err.Error()})
}

func (s *Session) writeData(f ServerFrame, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "marshalling %s frame", f.Type)
	}
	f.Data = raw
	return s.write(f)
}

func (s *Session) write(f ServerFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return errors.Wrapf(s.conn.WriteJSON(f), "writing %s frame", f.Type)
}

func (s *Session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func deltaFrame(typ string, e realtime.Event) ServerFrame {
	return ServerFrame{Type: typ, Kind: e.Kind, ID: e.ID, Version: e.Version}
}

// Members lists the people of a class, teachers first, then by name.
func Members(cls classroom.Class) []MemberView {
	members := make([]MemberView, 0, len(cls.Members))
	for uid, m := range cls.Members {
		members = append(members, MemberView{
			UID:       uid,
			Name:      m.Name,
			Email:     m.Email,
			PhotoURL:  m.PhotoURL,
			Role:      m.Role,
			IsCreator: uid == cls.CreatedBy,
		})
	}
	sortMembers(members)
	return members
}

func submissionKey(sb classroom.Submission) string {
	return sb.AssignmentID + ":" + sb.StudentID
}

func ignoreStop(err error) error {
	if errors.Cause(err) == errStop {
		return nil
	}
	return err
}
