// Copyright 2024-2026 Aiku AI

package moodle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// DefaultTablePrefix is Moodle's default $CFG->prefix.
const DefaultTablePrefix = "mdl_"

var (
	prefixRe      = regexp.MustCompile(`^[a-z0-9_]*$`)
	placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)
)

// ErrInvalidPrefix is returned when the table prefix could be used for SQL
// injection.
var ErrInvalidPrefix = errors.New("invalid table prefix")

// Store reads Moodle tables.
type Store struct {
	db     *dbutil.Database
	prefix string

	users     *dbutil.QueryHelper[*User]
	contexts  *dbutil.QueryHelper[*Context]
	instances *dbutil.QueryHelper[*ModuleInstance]
	events    *dbutil.QueryHelper[*Event]
}

// Open connects to the Moodle database. dbType is a dbutil dialect
// ("postgres" or "sqlite3").
func Open(dbType, uri, prefix string, log zerolog.Logger) (*Store, error) {
	db, err := dbutil.NewWithDialect(uri, dbType)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "moodle").Logger())
	store, err := New(db, prefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an already opened database.
func New(db *dbutil.Database, prefix string) (*Store, error) {
	if !prefixRe.MatchString(prefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return &Store{
		db:        db,
		prefix:    prefix,
		users:     dbutil.MakeQueryHelper(db, newUser),
		contexts:  dbutil.MakeQueryHelper(db, newContext),
		instances: dbutil.MakeQueryHelper(db, newModuleInstance),
		events:    dbutil.MakeQueryHelper(db, newEvent),
	}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *dbutil.Database {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Expand replaces {table} placeholders with prefixed table names.
func (s *Store) Expand(query string) string {
	return placeholderRe.ReplaceAllString(query, s.prefix+"$1")
}

const (
	getUserQuery = `
		SELECT id, username, email, firstname, lastname, deleted, suspended
		FROM {user} WHERE id=$1
	`
	getUserByUsernameQuery = `
		SELECT id, username, email, firstname, lastname, deleted, suspended
		FROM {user} WHERE username=$1 AND deleted=0
	`
	getContextQuery = `
		SELECT id, contextlevel, instanceid FROM {context} WHERE id=$1
	`
	getModuleInstancesQuery = `
		SELECT r.id, r.course, r.name, COALESCE(r.intro, ''), r.rocketchatid,
		       COALESCE(r.rocketchatname, ''), r.moderatorroles, r.userroles
		FROM {rocketchat} r
		JOIN {course_modules} cm ON cm.instance=r.id AND cm.course=r.course
		JOIN {modules} m ON m.id=cm.module AND m.name='rocketchat'
		WHERE r.course=$1 AND cm.deletioninprogress=0
		ORDER BY r.id
	`
	isEnrolledQuery = `
		SELECT COUNT(*)
		FROM {user_enrolments} ue
		JOIN {enrol} e ON e.id=ue.enrolid
		JOIN {user} u ON u.id=ue.userid
		WHERE e.courseid=$1 AND ue.userid=$2 AND u.deleted=0
	`
	isActivelyEnrolledQuery = isEnrolledQuery + `
		  AND e.status=0 AND ue.status=0 AND u.suspended=0
		  AND ue.timestart<=$3 AND (ue.timeend=0 OR ue.timeend>$3)
	`
	getUserCourseRoleIDsQuery = `
		SELECT DISTINCT ra.roleid
		FROM {role_assignments} ra
		JOIN {context} c ON c.id=ra.contextid
		WHERE c.contextlevel=50 AND c.instanceid=$1 AND ra.userid=$2
		ORDER BY ra.roleid
	`
	maxLogIDQuery = `
		SELECT COALESCE(MAX(id), 0) FROM {logstore_standard_log}
	`
	getLogEventsQuery = `
		SELECT id, eventname, objectid, relateduserid, contextid, contextlevel,
		       contextinstanceid, courseid, other, timecreated
		FROM {logstore_standard_log}
		WHERE id>$1 AND eventname IN (%s)
		ORDER BY id
		LIMIT %d
	`
)

// GetUser returns the user with the given id, or nil if there is none.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.QueryOne(ctx, s.Expand(getUserQuery), id)
}

// GetUserByUsername returns the non-deleted user with the given username, or nil.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.QueryOne(ctx, s.Expand(getUserByUsernameQuery), username)
}

// GetContext returns the context with the given id, or nil.
func (s *Store) GetContext(ctx context.Context, id int64) (*Context, error) {
	return s.contexts.QueryOne(ctx, s.Expand(getContextQuery), id)
}

// GetModuleInstances returns the mod_rocketchat instances of a course,
// skipping course modules that are being deleted.
func (s *Store) GetModuleInstances(ctx context.Context, courseID int64) ([]*ModuleInstance, error) {
	return s.instances.QueryMany(ctx, s.Expand(getModuleInstancesQuery), courseID)
}

// IsEnrolled reports whether the user has an enrolment in the course. With
// onlyActive, suspended enrolments, disabled enrolment methods, suspended
// users and enrolments outside their time window do not count.
func (s *Store) IsEnrolled(ctx context.Context, courseID, userID int64, onlyActive bool) (bool, error) {
	var count int
	var err error
	if onlyActive {
		now := time.Now().Unix()
		err = s.db.QueryRow(ctx, s.Expand(isActivelyEnrolledQuery), courseID, userID, now).Scan(&count)
	} else {
		err = s.db.QueryRow(ctx, s.Expand(isEnrolledQuery), courseID, userID).Scan(&count)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check enrolment: %w", err)
	}
	return count > 0, nil
}

// GetUserCourseRoleIDs returns the roles the user holds in the course context.
func (s *Store) GetUserCourseRoleIDs(ctx context.Context, courseID, userID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, s.Expand(getUserCourseRoleIDsQuery), courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MaxLogID returns the highest id in the standard logstore, 0 when empty.
func (s *Store) MaxLogID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, s.Expand(maxLogIDQuery)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max log id: %w", err)
	}
	return id, nil
}

// GetLogEvents returns up to limit logstore rows after afterID whose event
// name is one of eventNames, in id order.
func (s *Store) GetLogEvents(ctx context.Context, afterID int64, eventNames []string, limit int) ([]*Event, error) {
	if len(eventNames) == 0 || limit <= 0 {
		return nil, nil
	}
	args := make([]any, 0, len(eventNames)+1)
	args = append(args, afterID)
	placeholders := make([]string, len(eventNames))
	for i, name := range eventNames {
		placeholders[i] = "$" + strconv.Itoa(i+2)
		args = append(args, name)
	}
	query := fmt.Sprintf(getLogEventsQuery, strings.Join(placeholders, ", "), limit)
	return s.events.QueryMany(ctx, s.Expand(query), args...)
}
