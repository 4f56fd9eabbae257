package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logrus logger.
// It is safe to call multiple times; later calls overwrite previous settings.
func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
}

func parseLevel(levelStr string) log.Level {
	if levelStr == "" {
		return log.InfoLevel
	}
	if lvl, err := log.ParseLevel(levelStr); err == nil {
		return lvl
	}
	return log.InfoLevel
}

// L returns the global logger for convenience.
func L() *log.Logger { return log.StandardLogger() }

// ForTask returns an entry tagged with a forwarding task identity and run id,
// so every line of one execution can be correlated.
func ForTask(task, runID string) *log.Entry {
	return L().WithFields(log.Fields{"task": task, "run_id": runID})
}
