package classview_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/classview"
	"github.com/trezcool/darasa/core/inflight"
	"github.com/trezcool/darasa/core/realtime"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/services/pubsub"
	"github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/tests"
)

// fakeConn plays the browser side of a websocket.
type fakeConn struct {
	in        chan interface{}
	out       chan classview.ServerFrame
	closeCode chan int
	closed    chan struct{}
	closeOnce sync.Once
}

var _ classview.Conn = (*fakeConn)(nil) // interface compliance check

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:        make(chan interface{}),
		out:       make(chan classview.ServerFrame, 64),
		closeCode: make(chan int, 1),
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case m := <-c.in:
		if err, ok := m.(error); ok {
			return err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f classview.ServerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	c.out <- f
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		select {
		case c.closeCode <- int(binary.BigEndian.Uint16(data)):
		default:
		}
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, m interface{}) {
	t.Helper()
	select {
	case c.in <- m:
	case <-time.After(time.Second):
		t.Fatal("session is not reading")
	}
}

func (c *fakeConn) next(t *testing.T) classview.ServerFrame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return classview.ServerFrame{}
}

func (c *fakeConn) expect(t *testing.T, typ string) classview.ServerFrame {
	t.Helper()
	f := c.next(t)
	require.Equal(t, typ, f.Type, "frame: %+v", f)
	return f
}

func (c *fakeConn) expectClose(t *testing.T, code int) {
	t.Helper()
	select {
	case got := <-c.closeCode:
		assert.Equal(t, code, got)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

type fixture struct {
	svc     *classroom.Service
	broker  realtime.Broker
	usrRepo user.Repository
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	testutil.LoadAssets(conf)
	validate, _ := testutil.NewValidator()

	db := inmemdb.Open()
	broker := pubsub.NewMemoryBroker(testutil.NopLogger{})
	t.Cleanup(func() { _ = broker.Close() })

	return fixture{
		svc: classroom.NewService(
			inmemdb.NewClassroomRepository(db),
			broker,
			inflight.NewMemoryGuard(),
			emailsvc.NewConsoleServiceMock(conf, testutil.NopLogger{}),
			validate,
			testutil.NopLogger{},
		),
		broker:  broker,
		usrRepo: inmemdb.NewUserRepository(db),
	}
}

func (f fixture) caller(t *testing.T, name, email string) classroom.Caller {
	return testutil.Caller(testutil.CreateUser(t, f.usrRepo, name, email, "", true))
}

// classWithStudent creates a class taught by `teacher` and joined by `student`.
func (f fixture) classWithStudent(t *testing.T) (classroom.Class, classroom.Caller, classroom.Caller) {
	ctx := context.Background()
	teacher := f.caller(t, "Ada Teacher", "ada@example.com")
	student := f.caller(t, "Bob Student", "bob@example.com")
	cls, err := f.svc.CreateClass(ctx, teacher, classroom.NewClass{Name: "Maths", Teacher: teacher.Name})
	require.NoError(t, err)
	_, err = f.svc.JoinClass(ctx, student, cls.ClassCode)
	require.NoError(t, err)
	return cls, teacher, student
}

// open runs a session for caller.
func (f fixture) open(t *testing.T, caller classroom.Caller, classID string) (*fakeConn, <-chan error) {
	t.Helper()
	return f.openWith(t, f.svc, caller, classID)
}

func (f fixture) openWith(t *testing.T, svc classview.ClassService, caller classroom.Caller, classID string) (*fakeConn, <-chan error) {
	t.Helper()
	conn := newFakeConn()
	validate, _ := testutil.NewValidator()
	sess, err := classview.NewSession(classview.Deps{
		Conn:     conn,
		Service:  svc,
		Broker:   f.broker,
		Validate: validate,
		Logger:   testutil.NopLogger{},
		Caller:   caller,
		ClassID:  classID,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
	})
	return conn, done
}

func (f fixture) openAndDrain(t *testing.T, caller classroom.Caller, classID string) (*fakeConn, <-chan error) {
	t.Helper()
	conn, done := f.open(t, caller, classID)
	conn.expect(t, classview.FrameClass)
	conn.expect(t, classview.FrameMembers)
	conn.expect(t, classview.FrameAnnouncements)
	tab := conn.expect(t, classview.FrameTab)
	require.Equal(t, classview.TabStream, tab.Tab)
	return conn, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	return nil
}

func TestNewSession(t *testing.T) {
	f := setup(t)
	validate, _ := testutil.NewValidator()
	full := classview.Deps{
		Conn:     newFakeConn(),
		Service:  f.svc,
		Broker:   f.broker,
		Validate: validate,
		Logger:   testutil.NopLogger{},
		Caller:   classroom.Caller{UID: "u1"},
		ClassID:  "c1",
	}

	tests := []struct {
		name   string
		modify func(d *classview.Deps)
	}{
		{name: "no conn", modify: func(d *classview.Deps) { d.Conn = nil }},
		{name: "no service", modify: func(d *classview.Deps) { d.Service = nil }},
		{name: "no broker", modify: func(d *classview.Deps) { d.Broker = nil }},
		{name: "no validator", modify: func(d *classview.Deps) { d.Validate = nil }},
		{name: "no logger", modify: func(d *classview.Deps) { d.Logger = nil }},
		{name: "no caller", modify: func(d *classview.Deps) { d.Caller = classroom.Caller{} }},
		{name: "no class", modify: func(d *classview.Deps) { d.ClassID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.modify(&deps)
			_, err := classview.NewSession(deps)
			assert.Equal(t, classview.ErrMissingDependency, errors.Cause(err))
		})
	}

	_, err := classview.NewSession(full)
	assert.NoError(t, err)
}

func TestSession_entryGate(t *testing.T) {
	f := setup(t)
	cls, _, _ := f.classWithStudent(t)
	outsider := f.caller(t, "Eve", "eve@example.com")

	tests := []struct {
		name    string
		classID string
		wantErr error
		wantMsg string
	}{
		{name: "not a member", classID: cls.ID, wantErr: classroom.ErrPermissionDenied, wantMsg: "You don't have access to this class"},
		{name: "unknown class", classID: "nope", wantErr: classroom.ErrNotFound, wantMsg: "Class not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, done := f.open(t, outsider, tt.classID)
			frame := conn.expect(t, classview.FrameError)
			assert.Equal(t, tt.wantMsg, frame.Error)
			conn.expectClose(t, websocket.ClosePolicyViolation)
			assert.Equal(t, tt.wantErr, errors.Cause(waitDone(t, done)))
		})
	}
}

func TestSession_snapshots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	_, err := f.svc.PostAnnouncement(ctx, teacher, cls.ID, classroom.NewAnnouncement{Content: "Welcome"})
	require.NoError(t, err)

	conn, _ := f.open(t, student, cls.ID)

	frame := conn.expect(t, classview.FrameClass)
	var view classroom.Class
	require.NoError(t, json.Unmarshal(frame.Data, &view))
	assert.Equal(t, "Maths", view.Name)
	assert.False(t, view.IsTeacher)
	assert.Empty(t, view.ClassCode)

	frame = conn.expect(t, classview.FrameMembers)
	var members []classview.MemberView
	require.NoError(t, json.Unmarshal(frame.Data, &members))
	require.Len(t, members, 2)
	assert.Equal(t, teacher.UID, members[0].UID)
	assert.True(t, members[0].IsCreator)
	assert.Equal(t, classroom.RoleStudent, members[1].Role)

	frame = conn.expect(t, classview.FrameAnnouncements)
	var anns []classroom.Announcement
	require.NoError(t, json.Unmarshal(frame.Data, &anns))
	require.Len(t, anns, 1)
	assert.False(t, anns[0].CanDelete)

	assert.Equal(t, classview.TabStream, conn.expect(t, classview.FrameTab).Tab)
}

func TestSession_announcements(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	studentConn, _ := f.openAndDrain(t, student, cls.ID)
	teacherConn, _ := f.openAndDrain(t, teacher, cls.ID)

	ann, err := f.svc.PostAnnouncement(ctx, student, cls.ID, classroom.NewAnnouncement{Content: "Question"})
	require.NoError(t, err)

	for _, tc := range []struct {
		name          string
		conn          *fakeConn
		wantCanDelete bool
	}{
		{name: "author", conn: studentConn, wantCanDelete: true},
		{name: "teacher", conn: teacherConn, wantCanDelete: true},
	} {
		frame := tc.conn.expect(t, classview.FrameAnnouncement)
		assert.Equal(t, realtime.KindAdded, frame.Kind, tc.name)
		assert.Equal(t, ann.ID, frame.ID, tc.name)
		var got classroom.Announcement
		require.NoError(t, json.Unmarshal(frame.Data, &got))
		assert.Equal(t, tc.wantCanDelete, got.CanDelete, tc.name)
	}

	require.NoError(t, f.svc.DeleteAnnouncement(ctx, teacher, cls.ID, ann.ID))
	frame := studentConn.expect(t, classview.FrameAnnouncement)
	assert.Equal(t, realtime.KindRemoved, frame.Kind)
	assert.Equal(t, ann.ID, frame.ID)
	assert.Empty(t, frame.Data)
}

func TestSession_staleEventsDropped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	conn, _ := f.openAndDrain(t, student, cls.ID)

	current, err := f.svc.GetClass(ctx, student, cls.ID)
	require.NoError(t, err)
	stale, err := realtime.NewEvent(realtime.ClassTopic(cls.ID), realtime.KindModified, realtime.EntityClass, cls.ID, current.Version, current)
	require.NoError(t, err)
	require.NoError(t, f.broker.Publish(ctx, stale))

	_, err = f.svc.PostAnnouncement(ctx, teacher, cls.ID, classroom.NewAnnouncement{Content: "Next"})
	require.NoError(t, err)
	conn.expect(t, classview.FrameAnnouncement)
}

func TestSession_tabs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	conn, _ := f.openAndDrain(t, student, cls.ID)

	// assignment changes are ignored outside the classwork tab
	_, err := f.svc.CreateAssignment(ctx, teacher, cls.ID, classroom.NewAssignment{Title: "HW 1"})
	require.NoError(t, err)
	_, err = f.svc.PostAnnouncement(ctx, teacher, cls.ID, classroom.NewAnnouncement{Content: "HW 1 is out"})
	require.NoError(t, err)
	conn.expect(t, classview.FrameAnnouncement)

	conn.send(t, classview.ClientFrame{Type: classview.FrameTab, Tab: "grades"})
	assert.Equal(t, "tab must be one of: stream, classwork, people", conn.expect(t, classview.FrameError).Error)

	conn.send(t, classview.ClientFrame{Type: classview.FrameTab, Tab: classview.TabClasswork})
	assert.Equal(t, classview.TabClasswork, conn.expect(t, classview.FrameTab).Tab)
	frame := conn.expect(t, classview.FrameAssignments)
	var asgs []classroom.Assignment
	require.NoError(t, json.Unmarshal(frame.Data, &asgs))
	require.Len(t, asgs, 1)
	assert.Equal(t, "HW 1", asgs[0].Title)

	asg, err := f.svc.CreateAssignment(ctx, teacher, cls.ID, classroom.NewAssignment{Title: "HW 2"})
	require.NoError(t, err)
	frame = conn.expect(t, classview.FrameAssignment)
	assert.Equal(t, realtime.KindAdded, frame.Kind)
	assert.Equal(t, asg.ID, frame.ID)

	conn.send(t, classview.ClientFrame{Type: classview.FrameTab, Tab: classview.TabPeople})
	assert.Equal(t, classview.TabPeople, conn.expect(t, classview.FrameTab).Tab)

	conn.send(t, classview.ClientFrame{Type: "dance"})
	assert.Equal(t, "unknown frame type", conn.expect(t, classview.FrameError).Error)

	conn.send(t, &json.SyntaxError{Offset: 1})
	assert.Equal(t, "invalid frame", conn.expect(t, classview.FrameError).Error)
}

func TestSession_watchSubmissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	asg, err := f.svc.CreateAssignment(ctx, teacher, cls.ID, classroom.NewAssignment{Title: "Essay"})
	require.NoError(t, err)

	studentConn, _ := f.openAndDrain(t, student, cls.ID)
	studentConn.send(t, classview.ClientFrame{Type: classview.FrameWatchSubmissions, AssignmentID: asg.ID})
	assert.Equal(t, "Only teachers can view submissions", studentConn.expect(t, classview.FrameError).Error)

	conn, _ := f.openAndDrain(t, teacher, cls.ID)
	conn.send(t, classview.ClientFrame{Type: classview.FrameWatchSubmissions, AssignmentID: "nope"})
	assert.Equal(t, classroom.ErrAssignmentNotFound.Error(), conn.expect(t, classview.FrameError).Error)

	conn.send(t, classview.ClientFrame{Type: classview.FrameWatchSubmissions, AssignmentID: asg.ID})
	frame := conn.expect(t, classview.FrameSubmissions)
	assert.Equal(t, asg.ID, frame.AssignmentID)
	assert.JSONEq(t, `[]`, string(frame.Data))

	_, err = f.svc.Submit(ctx, student, cls.ID, asg.ID, classroom.NewSubmission{Content: "My essay"})
	require.NoError(t, err)
	frame = conn.expect(t, classview.FrameSubmission)
	assert.Equal(t, realtime.KindAdded, frame.Kind)
	assert.Equal(t, asg.ID+":"+student.UID, frame.ID)

	_, err = f.svc.Grade(ctx, teacher, cls.ID, asg.ID, student.UID, "90")
	require.NoError(t, err)
	frame = conn.expect(t, classview.FrameSubmission)
	assert.Equal(t, realtime.KindModified, frame.Kind)
	var sub classroom.Submission
	require.NoError(t, json.Unmarshal(frame.Data, &sub))
	require.NotNil(t, sub.Grade)
	assert.Equal(t, 90.0, *sub.Grade)

	conn.send(t, classview.ClientFrame{Type: classview.FrameUnwatchSubmissions})
	conn.send(t, classview.ClientFrame{Type: classview.FrameTab, Tab: classview.TabPeople})
	conn.expect(t, classview.FrameTab)
	_, err = f.svc.Grade(ctx, teacher, cls.ID, asg.ID, student.UID, "95")
	require.NoError(t, err)
	_, err = f.svc.PostAnnouncement(ctx, teacher, cls.ID, classroom.NewAnnouncement{Content: "Graded"})
	require.NoError(t, err)
	conn.expect(t, classview.FrameAnnouncement)
}

func TestSession_classChanges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	other := f.caller(t, "Cy", "cy@example.com")
	_, err := f.svc.JoinClass(ctx, other, cls.ClassCode)
	require.NoError(t, err)

	studentConn, studentDone := f.openAndDrain(t, student, cls.ID)
	otherConn, otherDone := f.openAndDrain(t, other, cls.ID)

	// promotion refreshes the header and the people list
	_, err = f.svc.ChangeRole(ctx, teacher, cls.ID, student.UID, classroom.ChangeRole{Role: classroom.RoleTeacher})
	require.NoError(t, err)
	frame := studentConn.expect(t, classview.FrameClass)
	assert.Equal(t, realtime.KindModified, frame.Kind)
	var view classroom.Class
	require.NoError(t, json.Unmarshal(frame.Data, &view))
	assert.True(t, view.IsTeacher)
	assert.Equal(t, cls.ClassCode, view.ClassCode)
	studentConn.expect(t, classview.FrameMembers)
	studentConn.expect(t, classview.FrameAnnouncements)
	otherConn.expect(t, classview.FrameClass)
	otherConn.expect(t, classview.FrameMembers)

	// leaving closes the leaver's page
	require.NoError(t, f.svc.LeaveClass(ctx, other, cls.ID))
	assert.Equal(t, "You are no longer a member of this class.", otherConn.expect(t, classview.FrameError).Error)
	otherConn.expectClose(t, websocket.ClosePolicyViolation)
	assert.NoError(t, waitDone(t, otherDone))
	studentConn.expect(t, classview.FrameClass)
	studentConn.expect(t, classview.FrameMembers)

	// deletion closes every page
	require.NoError(t, f.svc.DeleteClass(ctx, teacher, cls.ID))
	frame = studentConn.expect(t, classview.FrameClassRemoved)
	assert.Equal(t, cls.ID, frame.ID)
	studentConn.expectClose(t, websocket.CloseNormalClosure)
	assert.NoError(t, waitDone(t, studentDone))
}

func TestSession_roleChangeRefreshesFeed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cls, teacher, student := f.classWithStudent(t)
	_, err := f.svc.PostAnnouncement(ctx, teacher, cls.ID, classroom.NewAnnouncement{Content: "Rules"})
	require.NoError(t, err)

	conn, _ := f.openAndDrain(t, student, cls.ID)

	canDelete := func() bool {
		t.Helper()
		conn.expect(t, classview.FrameClass)
		conn.expect(t, classview.FrameMembers)
		frame := conn.expect(t, classview.FrameAnnouncements)
		var anns []classroom.Announcement
		require.NoError(t, json.Unmarshal(frame.Data, &anns))
		require.Len(t, anns, 1)
		return anns[0].CanDelete
	}

	_, err = f.svc.ChangeRole(ctx, teacher, cls.ID, student.UID, classroom.ChangeRole{Role: classroom.RoleTeacher})
	require.NoError(t, err)
	assert.True(t, canDelete())

	_, err = f.svc.ChangeRole(ctx, teacher, cls.ID, student.UID, classroom.ChangeRole{Role: classroom.RoleStudent})
	require.NoError(t, err)
	assert.False(t, canDelete())
}

// changeAfterGate runs change once, right after the first GetClass returns.
type changeAfterGate struct {
	*classroom.Service
	once   sync.Once
	change func()
}

func (s *changeAfterGate) GetClass(ctx context.Context, caller classroom.Caller, id string) (classroom.Class, error) {
	cls, err := s.Service.GetClass(ctx, caller, id)
	s.once.Do(s.change)
	return cls, err
}

func TestSession_changeWhileOpening(t *testing.T) {
	ctx := context.Background()

	t.Run("late joiner is in the snapshot", func(t *testing.T) {
		f := setup(t)
		cls, _, student := f.classWithStudent(t)
		late := f.caller(t, "Cy Late", "cy@example.com")

		svc := &changeAfterGate{Service: f.svc, change: func() {
			_, err := f.svc.JoinClass(ctx, late, cls.ClassCode)
			assert.NoError(t, err)
		}}
		conn, _ := f.openWith(t, svc, student, cls.ID)

		conn.expect(t, classview.FrameClass)
		frame := conn.expect(t, classview.FrameMembers)
		var members []classview.MemberView
		require.NoError(t, json.Unmarshal(frame.Data, &members))
		assert.Len(t, members, 3)
	})

	t.Run("access lost before subscribing", func(t *testing.T) {
		f := setup(t)
		cls, _, student := f.classWithStudent(t)

		svc := &changeAfterGate{Service: f.svc, change: func() {
			assert.NoError(t, f.svc.LeaveClass(ctx, student, cls.ID))
		}}
		conn, done := f.openWith(t, svc, student, cls.ID)

		assert.Equal(t, "You don't have access to this class", conn.expect(t, classview.FrameError).Error)
		conn.expectClose(t, websocket.ClosePolicyViolation)
		assert.Equal(t, classroom.ErrPermissionDenied, errors.Cause(waitDone(t, done)))
	})
}

func TestSession_clientLeaves(t *testing.T) {
	f := setup(t)
	cls, _, student := f.classWithStudent(t)
	conn, done := f.openAndDrain(t, student, cls.ID)

	conn.send(t, &websocket.CloseError{Code: websocket.CloseGoingAway})
	assert.NoError(t, waitDone(t, done))
}
