package config

const (
	defaultNetwork        = "bitcoin"
	defaultDaemonExec     = "coffred"
	defaultStartTimeout   = 30
	defaultStopTimeout    = 10
	defaultAttemptBudget  = 5
	defaultInitialBackoff = 500
	defaultMaxBackoff     = 8000
	defaultDialTimeout    = 2
	defaultCallTimeout    = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Network: defaultNetwork,
		Daemon: Daemon{
			Exec:         defaultDaemonExec,
			StartTimeout: defaultStartTimeout,
			StopTimeout:  defaultStopTimeout,
		},
		Connect: Connect{
			AttemptBudget:  defaultAttemptBudget,
			InitialBackoff: defaultInitialBackoff,
			MaxBackoff:     defaultMaxBackoff,
			DialTimeout:    defaultDialTimeout,
			CallTimeout:    defaultCallTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
