package bot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// AuditEntry is one line of the command audit trail
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	ChatID    int64          `json:"chat_id"`
	UserID    int64          `json:"user_id,omitempty"`
	UserName  string         `json:"user_name,omitempty"`
	Command   string         `json:"command"`
	Args      string         `json:"args,omitempty"`
	Outcome   string         `json:"outcome"` // success, denied, error
	Details   map[string]any `json:"details,omitempty"`
}

// AuditLogger appends entries as JSON lines. An empty path disables it.
type AuditLogger struct {
	mu      sync.Mutex
	logPath string
}

func NewAuditLogger(path string) *AuditLogger {
	return &AuditLogger{logPath: path}
}

// Log appends entry. Failures are counted, never returned.
func (al *AuditLogger) Log(entry AuditEntry) {
	if al == nil || al.logPath == "" {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(al.logPath), 0755); err != nil {
		observ.IncCounter("audit_log_errors_total", map[string]string{"error": "mkdir"})
		return
	}
	file, err := os.OpenFile(al.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		observ.IncCounter("audit_log_errors_total", map[string]string{"error": "open_file"})
		return
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		observ.IncCounter("audit_log_errors_total", map[string]string{"error": "marshal"})
		return
	}
	if _, err := fmt.Fprintf(file, "%s\n", line); err != nil {
		observ.IncCounter("audit_log_errors_total", map[string]string{"error": "write"})
		return
	}
	observ.IncCounter("audit_entries_total", map[string]string{
		"command": entry.Command,
		"outcome": entry.Outcome,
	})
}

// Authorizer admits commands only from the configured chat
type Authorizer struct {
	chatID int64
	audit  *AuditLogger
}

// NewAuthorizer parses the configured chat id. An unparsable id admits nobody.
func NewAuthorizer(chatID string, audit *AuditLogger) *Authorizer {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		id = 0
	}
	return &Authorizer{chatID: id, audit: audit}
}

// Allowed reports whether chatID is the configured chat, without auditing
func (a *Authorizer) Allowed(chatID int64) bool {
	return a.chatID != 0 && chatID == a.chatID
}

// Authorize returns an error when msg comes from any other chat
func (a *Authorizer) Authorize(chatID, userID int64, userName, command string) error {
	if !a.Allowed(chatID) {
		a.audit.Log(AuditEntry{
			ChatID:   chatID,
			UserID:   userID,
			UserName: userName,
			Command:  command,
			Outcome:  "denied",
			Details:  map[string]any{"reason": "unknown_chat"},
		})
		observ.IncCounter("bot_authorizations_total", map[string]string{"outcome": "denied"})
		return fmt.Errorf("chat %d is not authorized", chatID)
	}
	observ.IncCounter("bot_authorizations_total", map[string]string{"outcome": "success"})
	return nil
}
