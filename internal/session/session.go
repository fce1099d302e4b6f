// Package session tracks which authenticated users are connected to this
// process and which rooms each connection has joined. State is in memory only:
// after a restart every user appears offline until they reconnect.
package session
