package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
)

var allowedUpdates = []string{"message", "callback_query"}

// DrainBacklog discards updates queued while the bridge was down, so a
// restart never replays old prompts into engines. Returns the offset
// to poll from.
func (c *Client) DrainBacklog(ctx context.Context) (int, error) {
	offset := 0
	dropped := 0
	for {
		updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
			Offset:         offset,
			Timeout:        0,
			AllowedUpdates: allowedUpdates,
		})
		if err != nil {
			return offset, fmt.Errorf("drain backlog: %w", err)
		}
		if len(updates) == 0 {
			break
		}
		dropped += len(updates)
		offset = updates[len(updates)-1].UpdateID + 1
	}
	if dropped > 0 {
		slog.Info("poll.backlog_dropped", "count", dropped)
	}
	return offset, nil
}

// Updates starts long polling from offset. The channel closes when ctx
// is cancelled.
func (c *Client) Updates(ctx context.Context, offset int) (<-chan telego.Update, error) {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Timeout:        30,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		return nil, fmt.Errorf("start long polling: %w", err)
	}
	return updates, nil
}
