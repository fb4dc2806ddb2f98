// Package matrix wraps the mautrix client with the small extras the
// session layer needs: anonymous dialing for login/registration flows
// and syncer event registration behind plain methods.
package matrix
