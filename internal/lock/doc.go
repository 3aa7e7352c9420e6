// Package lock runs a lock session: load and order the plugins, lock, ask
// for credentials until they are accepted, unlock.
package lock
