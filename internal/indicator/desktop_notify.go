package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	busService   = "org.freedesktop.Notifications"
	busPath      = "/org/freedesktop/Notifications"
	busInterface = "org.freedesktop.Notifications"
)

// Freedesktop urgency levels carried in the "urgency" hint.
const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// notification is one Notify call on the freedesktop notification service.
type notification struct {
	appName   string
	replaceID uint32
	summary   string
	urgency   byte
	timeoutMS int
}

// args renders the busctl call arguments for signature susssasa{sv}i.
func (n notification) args() []string {
	return []string{
		"--user", "call", busService, busPath, busInterface,
		"Notify", "susssasa{sv}i",
		n.appName,
		strconv.FormatUint(uint64(n.replaceID), 10),
		"",
		n.summary,
		"",
		"0",
		"1", "urgency", "y", strconv.Itoa(int(n.urgency)),
		strconv.Itoa(n.timeoutMS),
	}
}

// desktopNotify posts n and returns the ID the notification server assigned.
func desktopNotify(ctx context.Context, n notification) (uint32, error) {
	out, err := runBusctl(ctx, n.args()...)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}
	return parseNotifyReply(out)
}

// desktopDismiss closes the notification with the given ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := runBusctl(ctx,
		"--user", "call", busService, busPath, busInterface,
		"CloseNotification", "u", strconv.FormatUint(uint64(id), 10),
	)
	if err != nil {
		return fmt.Errorf("desktop dismiss: %w", err)
	}
	return nil
}

// parseNotifyReply reads the "u <id>" reply busctl prints for Notify.
func parseNotifyReply(out string) (uint32, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[0] != "u" {
		return 0, fmt.Errorf("unexpected notify reply %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse notification id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

func runBusctl(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, text)
	}
	return text, nil
}
