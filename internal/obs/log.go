package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Warn emits a warning line. Used by best-effort paths (rate-limit store,
// last-login bookkeeping) that must never fail the caller.
func Warn(msg string, fields map[string]any) {
	emit("warn", msg, fields)
}

// Info emits an informational line.
func Info(msg string, fields map[string]any) {
	emit("info", msg, fields)
}

func emit(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		if k == "ts" || k == "level" || k == "msg" {
			continue
		}
		entry[k] = v
	}
	LogRequest(entry)
}
