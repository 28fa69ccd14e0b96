package inmemdb

import (
	"sync"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user      *userTable
		classroom *classroomTables
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	classroomTables struct {
		sync.RWMutex
		classes       map[string]*classroom.Class
		announcements map[string]*classroom.Announcement
		assignments   map[string]*classroom.Assignment
		submissions   map[string]*classroom.Submission // {assignmentID:studentID: submission}
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		classroom: &classroomTables{
			classes:       make(map[string]*classroom.Class),
			announcements: make(map[string]*classroom.Announcement),
			assignments:   make(map[string]*classroom.Assignment),
			submissions:   make(map[string]*classroom.Submission),
		},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.classroom.Lock()
	db.classroom.classes = make(map[string]*classroom.Class)
	db.classroom.announcements = make(map[string]*classroom.Announcement)
	db.classroom.assignments = make(map[string]*classroom.Assignment)
	db.classroom.submissions = make(map[string]*classroom.Submission)
	db.classroom.Unlock()
}
