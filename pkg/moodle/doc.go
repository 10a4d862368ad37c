// Copyright 2024-2026 Aiku AI

// Package moodle reads the parts of a Moodle database the Rocket.Chat sync
// needs: users, contexts, enrolments, role assignments, mod_rocketchat
// instances and the standard logstore. It never writes to Moodle.
//
// SQL is written with Moodle's {tablename} placeholders, which are expanded
// with the configured table prefix.
package moodle
