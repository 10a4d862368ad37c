// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"

	"github.com/aiku/moodle-rocketchat/pkg/connector/rcfmt"
	"github.com/aiku/moodle-rocketchat/pkg/moodle"
	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
)

// ErrUserNotFound is returned when a Moodle user has no Rocket.Chat account
// and none could be created.
var ErrUserNotFound = errors.New("rocket.chat user not found")

var (
	ErrEmptyGroupName = errors.New("group name is empty after sanitising")
	ErrEmptyMessage   = errors.New("message is empty")
)

const generatedPasswordLength = 24

// APIManager turns course-level intents into Rocket.Chat REST calls using the
// admin account. It is safe for concurrent use.
type APIManager struct {
	client *rocketchat.Client
	admin  *rocketchat.User
	cfg    *Config
	log    zerolog.Logger
}

// NewAPIManager connects to Rocket.Chat and authenticates the admin account,
// with the personal access token when one is configured and with the
// password otherwise.
func NewAPIManager(ctx context.Context, cfg *Config, log zerolog.Logger, opts ...rocketchat.Option) (*APIManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rc := cfg.RocketChat
	opts = append([]rocketchat.Option{rocketchat.WithTimeout(rc.Timeout())}, opts...)
	client := rocketchat.NewClient(rc.InstanceURL, rc.RESTAPIRoot, opts...)

	var admin *rocketchat.User
	var err error
	if rc.APIToken != "" {
		admin, err = client.LoginWithToken(ctx, rc.APIUserID, rc.APIToken)
	} else {
		admin, err = client.Login(ctx, rc.APIUser, rc.APIPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to log in to Rocket.Chat: %w", err)
	}
	log.Info().
		Str("instance_url", rc.InstanceURL).
		Str("admin_username", admin.Username).
		Str("admin_user_id", admin.ID).
		Msg("Connected to Rocket.Chat")
	return &APIManager{client: client, admin: admin, cfg: cfg, log: log}, nil
}

// AdminUser returns the authenticated admin account.
func (m *APIManager) AdminUser() *rocketchat.User {
	return m.admin
}

// Client returns the underlying REST client.
func (m *APIManager) Client() *rocketchat.Client {
	return m.client
}

// GroupRef builds a reference to a group by id and optional name.
func (m *APIManager) GroupRef(groupID, groupName string) rocketchat.RoomRef {
	return rocketchat.RoomRef{ID: groupID, Name: groupName}
}

// Close logs the admin account out.
func (m *APIManager) Close(ctx context.Context) error {
	if err := m.client.Logout(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Rocket.Chat admin not logged out")
		return err
	}
	m.log.Debug().Msg("Rocket.Chat admin logged out")
	return nil
}

// CreateGroup creates a private group named after name. When the name is
// taken it retries with name_1, name_2, ... up to max_group_rename_attempts.
func (m *APIManager) CreateGroup(ctx context.Context, name string) (*rocketchat.Group, error) {
	base := SanitizeGroupName(name)
	if base == "" {
		m.log.Warn().Str("group_name", name).Msg("Refusing to create group with empty name")
		return nil, ErrEmptyGroupName
	}
	for attempt := 0; ; attempt++ {
		candidate := RenamedGroupName(base, attempt)
		group, err := m.client.CreateGroup(ctx, candidate, nil)
		if err == nil {
			m.log.Info().
				Str("group_id", group.ID).
				Str("group_name", group.Name).
				Int("attempt", attempt).
				Msg("Created Rocket.Chat group")
			return group, nil
		}
		if rocketchat.IsErrorType(err, rocketchat.ErrorTypeDuplicateChannelName) && attempt < m.cfg.MaxGroupRenameAttempts {
			m.log.Debug().Str("group_name", candidate).Msg("Group name taken, trying next suffix")
			continue
		}
		m.log.Warn().Err(err).Str("group_name", candidate).Msg("Failed to create Rocket.Chat group")
		return nil, fmt.Errorf("failed to create group %q: %w", candidate, err)
	}
}

// DeleteGroup deletes a group by id, or by name when the id is empty.
func (m *APIManager) DeleteGroup(ctx context.Context, groupID, groupName string) error {
	if err := m.client.DeleteGroup(ctx, m.GroupRef(groupID, groupName)); err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Str("group_name", groupName).Msg("Failed to delete Rocket.Chat group")
		return err
	}
	m.log.Info().Str("group_id", groupID).Str("group_name", groupName).Msg("Deleted Rocket.Chat group")
	return nil
}

// ArchiveGroup archives a group.
func (m *APIManager) ArchiveGroup(ctx context.Context, groupID string) error {
	if err := m.client.ArchiveGroup(ctx, m.GroupRef(groupID, "")); err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to archive Rocket.Chat group")
		return err
	}
	m.log.Info().Str("group_id", groupID).Msg("Archived Rocket.Chat group")
	return nil
}

// UnarchiveGroup unarchives a group.
func (m *APIManager) UnarchiveGroup(ctx context.Context, groupID string) error {
	if err := m.client.UnarchiveGroup(ctx, m.GroupRef(groupID, "")); err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to unarchive Rocket.Chat group")
		return err
	}
	m.log.Info().Str("group_id", groupID).Msg("Unarchived Rocket.Chat group")
	return nil
}

// lookupUser finds the Rocket.Chat account named like the Moodle user.
func (m *APIManager) lookupUser(ctx context.Context, username string) (*rocketchat.User, error) {
	user, err := m.client.UserInfo(ctx, rocketchat.UserQuery{Username: username})
	if rocketchat.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	return user, nil
}

// resolveUser returns the account to act on, creating it first when
// create_user_account_if_not_exists is on.
func (m *APIManager) resolveUser(ctx context.Context, user *moodle.User) (*rocketchat.User, error) {
	if m.cfg.CreateUserAccountIfNotExists {
		rcUser, err := m.CreateUserIfNotExists(ctx, user)
		if err != nil {
			m.log.Warn().Err(err).
				Str("username", user.Username).
				Msg("User does not exist in Rocket.Chat and could not be created")
			return nil, fmt.Errorf("%w: %w", ErrUserNotFound, err)
		}
		return rcUser, nil
	}
	rcUser, err := m.lookupUser(ctx, user.Username)
	if err != nil {
		m.log.Debug().Err(err).Str("username", user.Username).Msg("User does not exist in Rocket.Chat")
		return nil, err
	}
	return rcUser, nil
}

// EnrolUserToGroup adds the Moodle user's account to the group as a member
// and returns the account.
func (m *APIManager) EnrolUserToGroup(ctx context.Context, groupID, groupName string, user *moodle.User) (*rocketchat.User, error) {
	rcUser, err := m.resolveUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if err = m.client.InviteToGroup(ctx, m.GroupRef(groupID, groupName), rcUser.ID); err != nil {
		m.log.Warn().Err(err).
			Str("username", user.Username).
			Str("group_id", groupID).
			Msg("User not added as user to Rocket.Chat group")
		return nil, err
	}
	m.log.Debug().Str("username", user.Username).Str("group_id", groupID).Msg("Added user to Rocket.Chat group")
	return rcUser, nil
}

// EnrolModeratorToGroup enrols the user and then grants moderator rights.
func (m *APIManager) EnrolModeratorToGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error {
	rcUser, err := m.EnrolUserToGroup(ctx, groupID, groupName, user)
	if err != nil {
		m.log.Warn().Err(err).
			Str("username", user.Username).
			Str("group_id", groupID).
			Msg("User not added as moderator to Rocket.Chat group")
		return err
	}
	if err = m.client.AddGroupModerator(ctx, m.GroupRef(groupID, groupName), rcUser.ID); err != nil {
		m.log.Warn().Err(err).
			Str("username", user.Username).
			Str("group_id", groupID).
			Msg("User not added as moderator to Rocket.Chat group")
		return err
	}
	m.log.Debug().Str("username", user.Username).Str("group_id", groupID).Msg("Added moderator to Rocket.Chat group")
	return nil
}

// UnenrolUserFromGroup removes the user's account from the group.
func (m *APIManager) UnenrolUserFromGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error {
	rcUser, err := m.resolveUser(ctx, user)
	if err != nil {
		return err
	}
	if err = m.client.KickFromGroup(ctx, m.GroupRef(groupID, groupName), rcUser.ID); err != nil {
		m.log.Warn().Err(err).
			Str("username", user.Username).
			Str("group_id", groupID).
			Msg("User not removed as user from Rocket.Chat group")
		return err
	}
	m.log.Debug().Str("username", user.Username).Str("group_id", groupID).Msg("Removed user from Rocket.Chat group")
	return nil
}

// UnenrolModeratorFromGroup revokes moderator rights and then removes the
// user from the group. Both steps are attempted; it succeeds only when both
// do.
func (m *APIManager) UnenrolModeratorFromGroup(ctx context.Context, groupID, groupName string, user *moodle.User) error {
	var modErr error
	rcUser, err := m.lookupUser(ctx, user.Username)
	if err != nil {
		modErr = err
	} else {
		modErr = m.client.RemoveGroupModerator(ctx, m.GroupRef(groupID, groupName), rcUser.ID)
	}
	if modErr != nil {
		m.log.Warn().Err(modErr).
			Str("username", user.Username).
			Str("group_id", groupID).
			Msg("User not removed as moderator from Rocket.Chat group")
	}
	userErr := m.UnenrolUserFromGroup(ctx, groupID, groupName, user)
	return errors.Join(modErr, userErr)
}

// CreateUserIfNotExists returns the account named like the Moodle user,
// creating it with a random password when it does not exist yet.
func (m *APIManager) CreateUserIfNotExists(ctx context.Context, user *moodle.User) (*rocketchat.User, error) {
	existing, err := m.lookupUser(ctx, user.Username)
	if err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	nickname := m.cfg.FormatNickname(NicknameParams{
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	})
	created, err := m.client.CreateUser(ctx, rocketchat.NewUser{
		Email:    user.Email,
		Name:     nickname,
		Username: user.Username,
		Password: random.String(generatedPasswordLength),
		Active:   true,
		Verified: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", user.Username, err)
	}
	m.log.Info().
		Str("username", created.Username).
		Str("rc_user_id", created.ID).
		Msg("Created Rocket.Chat user")
	return created, nil
}

// GetGroupMembers lists the members of a group.
func (m *APIManager) GetGroupMembers(ctx context.Context, groupID, groupName string) ([]rocketchat.Member, error) {
	members, err := m.client.GroupMembers(ctx, m.GroupRef(groupID, groupName))
	if err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to list Rocket.Chat group members")
		return nil, err
	}
	return members, nil
}

// DeleteUser deletes the Rocket.Chat account named like the Moodle user.
func (m *APIManager) DeleteUser(ctx context.Context, moodleUsername string) error {
	rcUser, err := m.lookupUser(ctx, moodleUsername)
	if err != nil {
		m.log.Debug().Err(err).Str("username", moodleUsername).Msg("User not found in Rocket.Chat while attempting to delete")
		return err
	}
	if err = m.client.DeleteUser(ctx, rcUser.ID); err != nil {
		m.log.Warn().Err(err).Str("username", moodleUsername).Msg("Failed to delete Rocket.Chat user")
		return err
	}
	m.log.Info().Str("username", moodleUsername).Str("rc_user_id", rcUser.ID).Msg("Deleted Rocket.Chat user")
	return nil
}

// CleanHistory deletes the group messages between oldest and latest,
// inclusive.
func (m *APIManager) CleanHistory(ctx context.Context, groupID string, oldest, latest time.Time) error {
	err := m.client.CleanHistory(ctx, rocketchat.CleanHistoryRequest{
		RoomID:    groupID,
		Oldest:    oldest,
		Latest:    latest,
		Inclusive: true,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to clean Rocket.Chat group history")
		return err
	}
	m.log.Info().
		Str("group_id", groupID).
		Time("oldest", oldest).
		Time("latest", latest).
		Msg("Cleaned Rocket.Chat group history")
	return nil
}

// PostMessage converts Moodle HTML to Rocket.Chat markdown and posts it to
// the group as the admin account.
func (m *APIManager) PostMessage(ctx context.Context, groupID, html string) (*rocketchat.Message, error) {
	text := rcfmt.Parse(html)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	msg, err := m.client.PostMessage(ctx, groupID, text)
	if err != nil {
		m.log.Warn().Err(err).Str("group_id", groupID).Msg("Failed to post Rocket.Chat message")
		return nil, err
	}
	m.log.Debug().Str("group_id", groupID).Str("message_id", msg.ID).Msg("Posted Rocket.Chat message")
	return msg, nil
}
