// Copyright 2024-2026 Aiku AI

// Package moodletest builds throwaway SQLite databases with the subset of the
// Moodle schema the sync reads, plus helpers to insert fixtures.
package moodletest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

// Prefix is the table prefix used by test databases.
const Prefix = "mdl_"

var schema = []string{
	`CREATE TABLE mdl_user (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		firstname TEXT NOT NULL DEFAULT '',
		lastname TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		suspended INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE mdl_context (
		id INTEGER PRIMARY KEY,
		contextlevel INTEGER NOT NULL,
		instanceid INTEGER NOT NULL
	)`,
	`CREATE TABLE mdl_modules (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE mdl_course_modules (
		id INTEGER PRIMARY KEY,
		course INTEGER NOT NULL,
		module INTEGER NOT NULL,
		instance INTEGER NOT NULL,
		deletioninprogress INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE mdl_rocketchat (
		id INTEGER PRIMARY KEY,
		course INTEGER NOT NULL,
		name TEXT NOT NULL,
		intro TEXT,
		rocketchatid TEXT NOT NULL DEFAULT '',
		rocketchatname TEXT,
		moderatorroles TEXT NOT NULL DEFAULT '',
		userroles TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE mdl_enrol (
		id INTEGER PRIMARY KEY,
		courseid INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE mdl_user_enrolments (
		id INTEGER PRIMARY KEY,
		enrolid INTEGER NOT NULL,
		userid INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		timestart INTEGER NOT NULL DEFAULT 0,
		timeend INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE mdl_role_assignments (
		id INTEGER PRIMARY KEY,
		roleid INTEGER NOT NULL,
		contextid INTEGER NOT NULL,
		userid INTEGER NOT NULL
	)`,
	`CREATE TABLE mdl_logstore_standard_log (
		id INTEGER PRIMARY KEY,
		eventname TEXT NOT NULL,
		objectid INTEGER,
		relateduserid INTEGER,
		contextid INTEGER NOT NULL,
		contextlevel INTEGER NOT NULL,
		contextinstanceid INTEGER NOT NULL,
		courseid INTEGER,
		other TEXT,
		timecreated INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT INTO mdl_modules (id, name) VALUES (1, 'forum'), (2, 'rocketchat')`,
}

// RocketChatModuleID is the {modules} id of mod_rocketchat in test databases.
const RocketChatModuleID = 2

// DB wraps a test store with fixture helpers.
type DB struct {
	*moodle.Store
	t testing.TB
}

// New creates an empty Moodle database in the test's temp dir.
func New(t testing.TB) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moodle.db")
	store, err := moodle.Open("sqlite3", "file:"+path+"?_busy_timeout=5000", Prefix, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	db := &DB{Store: store, t: t}
	for _, stmt := range schema {
		db.Exec(stmt)
	}
	return db
}

// Exec runs a statement and fails the test on error.
func (db *DB) Exec(query string, args ...any) {
	db.t.Helper()
	if _, err := db.DB().Exec(context.Background(), query, args...); err != nil {
		db.t.Fatalf("exec %q: %v", query, err)
	}
}

// AddUser inserts a user.
func (db *DB) AddUser(id int64, username, email, firstname, lastname string) {
	db.t.Helper()
	db.Exec(`INSERT INTO mdl_user (id, username, email, firstname, lastname) VALUES ($1, $2, $3, $4, $5)`,
		id, username, email, firstname, lastname)
}

// AddCourse inserts the course context (id = courseID + 1000) and a manual
// enrolment method (id = courseID) for the course.
func (db *DB) AddCourse(courseID int64) (contextID int64) {
	db.t.Helper()
	contextID = courseID + 1000
	db.Exec(`INSERT INTO mdl_context (id, contextlevel, instanceid) VALUES ($1, $2, $3)`, contextID, moodle.ContextCourse, courseID)
	db.Exec(`INSERT INTO mdl_enrol (id, courseid, status) VALUES ($1, $2, 0)`, courseID, courseID)
	return contextID
}

// AddInstance inserts a mod_rocketchat instance and its course module.
func (db *DB) AddInstance(id, courseID int64, groupID, groupName, moderatorRoles, userRoles string) {
	db.t.Helper()
	db.Exec(`INSERT INTO mdl_rocketchat (id, course, name, intro, rocketchatid, rocketchatname, moderatorroles, userroles)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, $7)`, id, courseID, "Chat "+groupName, groupID, groupName, moderatorRoles, userRoles)
	db.Exec(`INSERT INTO mdl_course_modules (id, course, module, instance) VALUES ($1, $2, $3, $4)`,
		id+500, courseID, RocketChatModuleID, id)
}

// Enrol enrols a user in the course through its manual enrolment method.
func (db *DB) Enrol(courseID, userID int64, status int) {
	db.t.Helper()
	db.Exec(`INSERT INTO mdl_user_enrolments (enrolid, userid, status) VALUES ($1, $2, $3)`, courseID, userID, status)
}

// AssignRole assigns a role in a context.
func (db *DB) AssignRole(roleID, contextID, userID int64) {
	db.t.Helper()
	db.Exec(`INSERT INTO mdl_role_assignments (roleid, contextid, userid) VALUES ($1, $2, $3)`, roleID, contextID, userID)
}

// Log appends a logstore row.
func (db *DB) Log(evt moodle.Event) {
	db.t.Helper()
	var other any
	if len(evt.Other) > 0 {
		other = string(evt.Other)
	}
	db.Exec(`INSERT INTO mdl_logstore_standard_log
		(eventname, objectid, relateduserid, contextid, contextlevel, contextinstanceid, courseid, other, timecreated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.EventName, evt.ObjectID, evt.RelatedUserID, evt.ContextID, evt.ContextLevel,
		evt.ContextInstanceID, evt.CourseID, other, evt.TimeCreated)
}
