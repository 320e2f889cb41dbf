package retro

import (
	"fmt"
	"strconv"
	"strings"

	"serverbot/internal/pipeline"
	kit "serverbot/internal/transport"
)

const colorAchievement = 0x3498DB

// Render builds the record for one unlocked achievement.
func Render(e pipeline.Event) (kit.Record, error) {
	a, ok := e.Payload.(*Achievement)
	if !ok || a == nil {
		return kit.Record{}, fmt.Errorf("retroachievements %s: unexpected payload %T", e.ID, e.Payload)
	}
	hardcore := "No"
	if a.HardcoreMode == 1 {
		hardcore = "Yes"
	}
	rec := kit.Record{
		Author:    "A new Achievement has been earned",
		Title:     a.GameTitle,
		URL:       DefaultBaseURL + "/achievement/" + strconv.FormatInt(a.AchievementID, 10),
		Body:      a.Description,
		Color:     colorAchievement,
		Thumbnail: mediaURL(a.BadgeURL),
		Timestamp: a.EarnedAt,
		Fields: []kit.Field{
			{Name: "Title", Value: a.Title, Inline: true},
			{Name: "Points", Value: strconv.Itoa(a.Points), Inline: true},
			{Name: "Hardcore", Value: hardcore, Inline: true},
			{Name: "Console", Value: a.ConsoleName, Inline: true},
			{Name: "Date", Value: a.EarnedAt.Format(dateLayout), Inline: true},
		},
	}
	return rec, nil
}

func mediaURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http") {
		return path
	}
	return mediaBaseURL + "/" + strings.TrimLeft(path, "/")
}
