package executions

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxOutputBytes caps the stored stdout and stderr of a single execution.
const MaxOutputBytes = 64 * 1024

const truncatedMarker = "\n...[truncated]"

type Execution struct {
	ID string `gorm:"type:text;primaryKey"`

	Host string `gorm:"type:text;not null;index:idx_execution_host"`
	User string `gorm:"type:text;not null"`
	Port int    `gorm:"type:integer;not null"`

	Command    string `gorm:"type:text;not null"`
	ExitStatus int    `gorm:"type:integer;not null"` // -1 when the command never reported one
	Signal     string `gorm:"type:text"`
	Stdout     string `gorm:"type:text"`
	Stderr     string `gorm:"type:text"`
	Error      string `gorm:"type:text"` // connection or execution failure, empty on success

	StartedAt time.Time     `gorm:"type:timestamp;not null;index:idx_execution_started_at"`
	Duration  time.Duration `gorm:"type:integer;not null"`
}

// Succeeded reports whether the command ran and exited with status 0.
func (e *Execution) Succeeded() bool {
	return e.Error == "" && e.ExitStatus == 0
}

func (e *Execution) Target() string {
	return fmt.Sprintf("%s@%s:%d", e.User, e.Host, e.Port)
}

func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}

	cut := MaxOutputBytes

	// do not split a multi-byte character
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + truncatedMarker
}
