package main

import "time"

// ServeFlags are the flags of the serve command.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
	// KeepChild leaves the managed process running when the daemon exits.
	KeepChild bool
}

// WatchdogFlags mirror the arguments the daemon passes when it spawns the
// watchdog.
type WatchdogFlags struct {
	GroupGrace time.Duration
	PIDGrace   time.Duration
	LogFile    string
}

type StartFlags struct {
	Exe     string
	WorkDir string
	Env     []string
}

type EventsFlags struct {
	Kinds []string
}

type ProxiesApplyFlags struct {
	File string
}
