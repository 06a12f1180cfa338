// Package dev implements the development server: a polling file
// watcher, an incremental rebuild loop, blue-green replacement of the
// spawned server block processes, a reverse proxy in front of the
// primary block, and live reload over server-sent events.
//
// A failed rebuild never touches the running processes; the previous
// deployment keeps serving until a build succeeds.
package dev
