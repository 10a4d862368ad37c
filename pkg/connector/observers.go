// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
)

// GroupManager is the subset of APIManager the observers drive.
type GroupManager interface {
	EnrolUserToGroup(ctx context.Context, groupID, groupName string, user *moodle.User) (*rocketchat.User, error)
	EnrolModeratorToGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error
	UnenrolUserFromGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error
	UnenrolModeratorFromGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error
	DeleteUser(ctx context.Context, moodleUsername string) error
}

// MoodleStore is the subset of moodle.Store the observers read.
type MoodleStore interface {
	GetUser(ctx context.Context, id int64) (*moodle.User, error)
	GetContext(ctx context.Context, id int64) (*moodle.Context, error)
	GetModuleInstances(ctx context.Context, courseID int64) ([]*moodle.ModuleInstance, error)
	IsEnrolled(ctx context.Context, courseID, userID int64, onlyActive bool) (bool, error)
	GetUserCourseRoleIDs(ctx context.Context, courseID, userID int64) ([]int64, error)
}

var (
	_ GroupManager = (*APIManager)(nil)
	_ MoodleStore  = (*moodle.Store)(nil)
)

// Observer reacts to Moodle events by updating the Rocket.Chat groups of
// the course's module instances. Facade failures are logged by the facade
// and do not stop the remaining instances; only Moodle read errors are
// returned.
type Observer struct {
	Manager          GroupManager
	Store            MoodleStore
	SyncUserDeletion bool

	log zerolog.Logger
}

// NewObserver creates an observer.
func NewObserver(manager GroupManager, store MoodleStore, syncUserDeletion bool, log zerolog.Logger) *Observer {
	return &Observer{
		Manager:          manager,
		Store:            store,
		SyncUserDeletion: syncUserDeletion,
		log:              log,
	}
}

// HandledEvents lists the event names HandleEvent dispatches.
var HandledEvents = []string{
	moodle.EventRoleAssigned,
	moodle.EventRoleUnassigned,
	moodle.EventUserEnrolmentUpdated,
	moodle.EventUserEnrolmentDeleted,
	moodle.EventUserDeleted,
}

// HandleEvent dispatches evt by name. It reports whether the name is one the
// observer handles; unknown names are ignored.
func (o *Observer) HandleEvent(ctx context.Context, evt *moodle.Event) (bool, error) {
	var err error
	switch evt.EventName {
	case moodle.EventRoleAssigned:
		err = o.RoleAssigned(ctx, evt)
	case moodle.EventRoleUnassigned:
		err = o.RoleUnassigned(ctx, evt)
	case moodle.EventUserEnrolmentUpdated, moodle.EventUserEnrolmentDeleted:
		err = o.UserEnrolmentUpdated(ctx, evt)
	case moodle.EventUserDeleted:
		err = o.UserDeleted(ctx, evt)
	default:
		o.log.Trace().Str("event_name", evt.EventName).Msg("Ignoring unhandled event")
		return false, nil
	}
	if err != nil {
		o.log.Err(err).
			Str("event_name", evt.EventName).
			Int64("event_id", evt.ID).
			Msg("Failed to handle event")
	}
	return true, err
}

// courseOf returns the course id of the event's context, or 0 when the
// context is not a course context.
func (o *Observer) courseOf(ctx context.Context, evt *moodle.Event) (int64, error) {
	if evt.ContextLevel != 0 {
		if evt.ContextLevel != moodle.ContextCourse {
			return 0, nil
		}
		return evt.ContextInstanceID, nil
	}
	mctx, err := o.Store.GetContext(ctx, evt.ContextID)
	if err != nil {
		return 0, fmt.Errorf("failed to get context %d: %w", evt.ContextID, err)
	}
	if !mctx.IsCourse() {
		return 0, nil
	}
	return mctx.InstanceID, nil
}

// loadUser returns the event's related user, or nil when it is gone.
func (o *Observer) loadUser(ctx context.Context, evt *moodle.Event) (*moodle.User, error) {
	user, err := o.Store.GetUser(ctx, evt.RelatedUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", evt.RelatedUserID, err)
	}
	if user == nil || user.Deleted {
		o.log.Debug().Int64("user_id", evt.RelatedUserID).Msg("Related user not found, skipping event")
		return nil, nil
	}
	return user, nil
}

// RoleAssigned enrols the user in the groups of every module instance of the
// course whose moderator or user roles contain the assigned role. Moderator
// roles take precedence.
func (o *Observer) RoleAssigned(ctx context.Context, evt *moodle.Event) error {
	courseID, err := o.courseOf(ctx, evt)
	if err != nil || courseID == 0 {
		return err
	}
	user, err := o.loadUser(ctx, evt)
	if err != nil || user == nil {
		return err
	}
	enrolled, err := o.Store.IsEnrolled(ctx, courseID, user.ID, false)
	if err != nil {
		return err
	} else if !enrolled {
		o.log.Debug().
			Str("username", user.Username).
			Int64("course_id", courseID).
			Msg("User not enrolled in course, ignoring role assignment")
		return nil
	}
	instances, err := o.Store.GetModuleInstances(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to get module instances of course %d: %w", courseID, err)
	}
	roleID := evt.ObjectID
	for _, instance := range instances {
		if instance.IsModeratorRole(roleID) {
			_ = o.Manager.EnrolModeratorToGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		} else if instance.IsUserRole(roleID) {
			_, _ = o.Manager.EnrolUserToGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		}
	}
	return nil
}

// RoleUnassigned removes the user from the groups of every module instance
// of the course whose role lists contain the unassigned role. A role in both
// lists triggers both removals.
func (o *Observer) RoleUnassigned(ctx context.Context, evt *moodle.Event) error {
	courseID, err := o.courseOf(ctx, evt)
	if err != nil || courseID == 0 {
		return err
	}
	user, err := o.loadUser(ctx, evt)
	if err != nil || user == nil {
		return err
	}
	instances, err := o.Store.GetModuleInstances(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to get module instances of course %d: %w", courseID, err)
	}
	roleID := evt.ObjectID
	for _, instance := range instances {
		if instance.IsModeratorRole(roleID) {
			_ = o.Manager.UnenrolModeratorFromGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		}
		if instance.IsUserRole(roleID) {
			_ = o.Manager.UnenrolUserFromGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		}
	}
	return nil
}

// UserEnrolmentUpdated removes the user from every group of the course once
// the enrolment stops being active, and replays the user's course roles when
// it is active again.
func (o *Observer) UserEnrolmentUpdated(ctx context.Context, evt *moodle.Event) error {
	courseID := evt.CourseID
	if courseID == 0 {
		var err error
		if courseID, err = o.courseOf(ctx, evt); err != nil || courseID == 0 {
			return err
		}
	}
	user, err := o.loadUser(ctx, evt)
	if err != nil || user == nil {
		return err
	}
	active, err := o.Store.IsEnrolled(ctx, courseID, user.ID, true)
	if err != nil {
		return err
	}
	instances, err := o.Store.GetModuleInstances(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to get module instances of course %d: %w", courseID, err)
	}
	if len(instances) == 0 {
		return nil
	}
	if !active {
		o.log.Debug().
			Str("username", user.Username).
			Int64("course_id", courseID).
			Msg("Enrolment no longer active, removing user from course groups")
		for _, instance := range instances {
			_ = o.Manager.UnenrolUserFromGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		}
		return nil
	}
	roleIDs, err := o.Store.GetUserCourseRoleIDs(ctx, courseID, user.ID)
	if err != nil {
		return err
	}
	for _, instance := range instances {
		switch {
		case hasAnyRole(roleIDs, instance.IsModeratorRole):
			_ = o.Manager.EnrolModeratorToGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		case hasAnyRole(roleIDs, instance.IsUserRole):
			_, _ = o.Manager.EnrolUserToGroup(ctx, instance.RocketChatID, instance.RocketChatName, user)
		}
	}
	return nil
}

func hasAnyRole(roleIDs []int64, match func(int64) bool) bool {
	for _, id := range roleIDs {
		if match(id) {
			return true
		}
	}
	return false
}

// UserDeleted deletes the Rocket.Chat account of a deleted Moodle user when
// sync_user_deletion is on. Moodle has already scrambled the user row by the
// time the event fires, so the username comes from the event payload.
func (o *Observer) UserDeleted(ctx context.Context, evt *moodle.Event) error {
	if !o.SyncUserDeletion {
		return nil
	}
	username := evt.OtherString("username")
	if username == "" {
		o.log.Warn().Int64("user_id", evt.ObjectID).Msg("User deletion event carries no username, skipping")
		return nil
	}
	_ = o.Manager.DeleteUser(ctx, username)
	return nil
}
