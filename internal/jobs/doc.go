// Package jobs binds config-declared jobs onto a scheduler.
//
// A job is a name, a schedule string and an action. Schedule strings are
// parsed by ParseSchedule; actions are registered by name with
// Runner.Register, and unregistered jobs fall back to logging their message.
// Every run is published on the event bus and appended to the run journal.
package jobs
