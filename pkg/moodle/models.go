// Copyright 2024-2026 Aiku AI

package moodle

import (
	"database/sql"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.mau.fi/util/dbutil"
)

// Context levels as defined by Moodle.
const (
	ContextSystem   = 10
	ContextUser     = 30
	ContextCategory = 40
	ContextCourse   = 50
	ContextModule   = 70
	ContextBlock    = 80
)

// User is a row of {user}.
type User struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Deleted   bool
	Suspended bool
}

func newUser(_ *dbutil.QueryHelper[*User]) *User {
	return &User{}
}

func (u *User) Scan(row dbutil.Scannable) (*User, error) {
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Deleted, &u.Suspended)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Context is a row of {context}.
type Context struct {
	ID         int64
	Level      int
	InstanceID int64
}

func newContext(_ *dbutil.QueryHelper[*Context]) *Context {
	return &Context{}
}

func (c *Context) Scan(row dbutil.Scannable) (*Context, error) {
	if err := row.Scan(&c.ID, &c.Level, &c.InstanceID); err != nil {
		return nil, err
	}
	return c, nil
}

// IsCourse reports whether this is a course context.
func (c *Context) IsCourse() bool {
	return c != nil && c.Level == ContextCourse
}

// ModuleInstance is a mod_rocketchat activity: the remote group it maps to
// and which course roles become moderators or plain members there.
type ModuleInstance struct {
	ID             int64
	CourseID       int64
	Name           string
	Intro          string
	RocketChatID   string
	RocketChatName string
	ModeratorRoles []int64
	UserRoles      []int64
}

func newModuleInstance(_ *dbutil.QueryHelper[*ModuleInstance]) *ModuleInstance {
	return &ModuleInstance{}
}

func (mi *ModuleInstance) Scan(row dbutil.Scannable) (*ModuleInstance, error) {
	var moderatorRoles, userRoles string
	err := row.Scan(&mi.ID, &mi.CourseID, &mi.Name, &mi.Intro, &mi.RocketChatID, &mi.RocketChatName, &moderatorRoles, &userRoles)
	if err != nil {
		return nil, err
	}
	mi.ModeratorRoles = ParseRoleIDs(moderatorRoles)
	mi.UserRoles = ParseRoleIDs(userRoles)
	return mi, nil
}

// IsModeratorRole reports whether holders of roleID moderate the group.
func (mi *ModuleInstance) IsModeratorRole(roleID int64) bool {
	return slices.Contains(mi.ModeratorRoles, roleID)
}

// IsUserRole reports whether holders of roleID are plain group members.
func (mi *ModuleInstance) IsUserRole(roleID int64) bool {
	return slices.Contains(mi.UserRoles, roleID)
}

// ParseRoleIDs parses Moodle's comma-separated role id lists. Blank and
// non-numeric entries are skipped.
func ParseRoleIDs(list string) []int64 {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Event names handled by the sync.
const (
	EventRoleAssigned         = `\core\event\role_assigned`
	EventRoleUnassigned       = `\core\event\role_unassigned`
	EventUserEnrolmentUpdated = `\core\event\user_enrolment_updated`
	EventUserEnrolmentDeleted = `\core\event\user_enrolment_deleted`
	EventUserDeleted          = `\core\event\user_deleted`
)

// Event is Moodle event data, as stored in the standard logstore and as
// posted by the webhook or published on NATS.
type Event struct {
	ID                int64           `json:"id,omitempty"`
	EventName         string          `json:"eventname"`
	ObjectID          int64           `json:"objectid"`
	RelatedUserID     int64           `json:"relateduserid"`
	ContextID         int64           `json:"contextid"`
	ContextLevel      int             `json:"contextlevel"`
	ContextInstanceID int64           `json:"contextinstanceid"`
	CourseID          int64           `json:"courseid"`
	Other             json.RawMessage `json:"other,omitempty"`
	TimeCreated       int64           `json:"timecreated,omitempty"`
}

func newEvent(_ *dbutil.QueryHelper[*Event]) *Event {
	return &Event{}
}

func (e *Event) Scan(row dbutil.Scannable) (*Event, error) {
	var objectID, relatedUserID, courseID sql.NullInt64
	var other sql.NullString
	err := row.Scan(&e.ID, &e.EventName, &objectID, &relatedUserID, &e.ContextID, &e.ContextLevel,
		&e.ContextInstanceID, &courseID, &other, &e.TimeCreated)
	if err != nil {
		return nil, err
	}
	e.ObjectID = objectID.Int64
	e.RelatedUserID = relatedUserID.Int64
	e.CourseID = courseID.Int64
	if other.Valid && gjson.Valid(other.String) {
		e.Other = json.RawMessage(other.String)
	}
	return e, nil
}

// OtherString returns a value from the event's "other" payload, or "".
func (e *Event) OtherString(key string) string {
	if len(e.Other) == 0 {
		return ""
	}
	return gjson.GetBytes(e.Other, key).String()
}

// OtherInt returns an integer from the event's "other" payload, or 0.
func (e *Event) OtherInt(key string) int64 {
	if len(e.Other) == 0 {
		return 0
	}
	return gjson.GetBytes(e.Other, key).Int()
}
