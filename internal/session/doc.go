// Package session holds the per-connection authorization context, the
// client-held session token and the gate that combines them.
//
// A Session is created for each browser session and kept in a Registry keyed
// by the sp_sid cookie. It carries a random device id, the cached login and
// the force-logout flag set by an explicit logout.
//
// The TokenManager stores the user_license credential through a Jar, with
// either the plain codec (the license string itself) or the signed codec
// (an HS256 JWT). The Gate trusts a well-formed token without asking the
// ledger whether the license is still valid.
package session
