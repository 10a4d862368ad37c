// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector keeps Rocket.Chat private groups in step with Moodle
// course membership.
//
// Every Rocket.Chat activity instance in a Moodle course is linked to one
// private group. When a teacher or student gains or loses a course role, the
// matching account is invited to or removed from the group of each instance,
// and made or unmade a moderator when the role is listed among the
// instance's moderator roles.
//
// # Core Types
//
// [APIManager] is the facade over the Rocket.Chat REST API. It authenticates
// the admin account once and turns course-level intents (enrol a user,
// create a group, clean its history) into REST calls. Accounts are created
// on demand when create_user_account_if_not_exists is set.
//
// [Observer] reacts to Moodle events (role assigned or unassigned, enrolment
// updated, user deleted) by reading the Moodle database and driving the
// facade.
//
// [Connector] owns both and runs the event sources: the POST /api/events
// webhook, the standard logstore poller ([Connector.WatchEventLog]) and an
// optional NATS subscription ([Connector.SubscribeNATS]). It also serves the
// admin API the Moodle plugin calls to create, archive and delete groups.
//
// # Sub-packages
//
//   - rcfmt converts Moodle HTML to Rocket.Chat markdown.
package connector
