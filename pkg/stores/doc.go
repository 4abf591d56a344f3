// Package stores persists projects, deploy attempts and the activity log in
// SQLite. The schema is managed by embedded golang-migrate migrations.
package stores
