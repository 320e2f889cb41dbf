// Package scheduler registers periodic jobs on robfig/cron.
//
// A schedule string is either a cron expression ("0 * * * *", "@hourly",
// "@every 5m") or a plain interval ("10m", "02:30"). Interval jobs get a
// random startup spread so sources registered together do not fire together.
// Every run gets its own deadline; a failing run is logged and the job stays
// scheduled.
package scheduler
