// Package scheduler fires named jobs on cron, interval or HH:MM schedules.
//
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still going is skipped and counted. Panics inside a job are recovered
// and logged.
package scheduler
