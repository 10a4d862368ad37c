// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rocketchat is a small client for the Rocket.Chat REST API (v1).
//
// It covers the endpoints the Moodle sync service needs: authentication,
// user lookup/creation/deletion, private group management and membership,
// channel lookups, history cleanup and message posting.
//
// A [Client] is safe for concurrent use once it has been authenticated with
// [Client.Login] or [Client.LoginWithToken]. Failed calls return an
// [*APIError] carrying the remote error type, which can be matched with
// [IsErrorType].
package rocketchat
