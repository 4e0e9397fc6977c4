// Package action executes removal verdicts against the relay's content
// store.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultDeleteTimeout bounds one strfry CLI invocation.
const DefaultDeleteTimeout = 10 * time.Second

// StrfryDeleter removes events from a strfry relay database via the strfry
// CLI. With DryRun set it logs the command it would run instead of
// executing it.
type StrfryDeleter struct {
	Executable string
	DataDir    string
	DryRun     bool
	Timeout    time.Duration

	logger *slog.Logger
}

// NewStrfryDeleter creates a deleter for the given strfry installation.
func NewStrfryDeleter(executable, dataDir string, dryRun bool, logger *slog.Logger) *StrfryDeleter {
	return &StrfryDeleter{
		Executable: executable,
		DataDir:    dataDir,
		DryRun:     dryRun,
		Timeout:    DefaultDeleteTimeout,
		logger:     logger,
	}
}

// Delete removes the event with the given id from the strfry database.
func (d *StrfryDeleter) Delete(ctx context.Context, eventID string) error {
	args := []string{"delete", "--dir", d.DataDir, "--id", eventID}

	if d.DryRun {
		d.logger.Info("dry run: would delete event",
			"command", d.Executable+" "+strings.Join(args, " "), "target", eventID)
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	out, err := exec.CommandContext(tctx, d.Executable, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("strfry delete %s: %w: %s", eventID, err, strings.TrimSpace(string(out)))
	}
	d.logger.Info("event deleted from relay store", "target", eventID)
	return nil
}
