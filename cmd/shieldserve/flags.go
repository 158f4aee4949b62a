package main

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// StartFlags belong to the root command, which starts or stops a session.
// Config overrides such as --port are bound to viper keys in bindFlags.
type StartFlags struct {
	Stop bool
}

type StatusFlags struct {
	Events int
}

// WatchFlags are passed by the controller to the detached watchdog.
type WatchFlags struct {
	Dir string
}
