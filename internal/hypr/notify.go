package hypr

import (
	"context"
	"strconv"
	"strings"
)

// DefaultColor is used when Notify is given a blank color.
const DefaultColor = "rgb(89b4fa)"

// Notify shows text as a Hyprland notification. icon is one of hyprctl's
// notify icon indexes and timeoutMS how long the notification stays up.
func Notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.TrimSpace(color) == "" {
		color = DefaultColor
	}
	_, err := hyprctl(ctx, "--quiet", "dispatch", "notify",
		strconv.Itoa(icon), strconv.Itoa(timeoutMS), color, text)
	return err
}

// DismissNotify clears all Hyprland notifications.
func DismissNotify(ctx context.Context) error {
	_, err := hyprctl(ctx, "--quiet", "dispatch", "dismissnotify")
	return err
}
