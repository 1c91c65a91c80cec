package assistant

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
)

const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// emotionValence places emotions on a negative-to-positive scale for trend fitting.
var emotionValence = map[string]float64{
	"joy":        1.0,
	"gratitude":  0.8,
	"calm":       0.6,
	"excitement": 0.9,
	"sadness":    -0.8,
	"anxiety":    -0.6,
	"anger":      -0.9,
	"confusion":  -0.3,
	"loneliness": -0.7,
	"overwhelm":  -0.5,
}

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Insights is a summary of interaction history.
type Insights struct {
	GeneratedAt        time.Time           `json:"generated_at"`
	TotalInteractions  int                 `json:"total_interactions"`
	MostCommonEmotions []Count             `json:"most_common_emotions"`
	PreferredBooks     []Count             `json:"preferred_books"`
	PreferredPlaylists []Count             `json:"preferred_playlists"`
	ActiveHours        map[int]int         `json:"active_hours"`
	RecentEmotions     []string            `json:"recent_emotions"`
	Trend              string              `json:"emotional_trend"`
	TrendSlope         float64             `json:"trend_slope"`
	MusicSuccessRate   float64             `json:"music_success_rate"`
	Recommendations    []string            `json:"recommendations"`
	Recent             []InteractionRecord `json:"-"`
}

// AnalyzeInteractions summarizes records as of now. Records may be in any order.
func AnalyzeInteractions(records []InteractionRecord, now time.Time) Insights {
	rs := append([]InteractionRecord(nil), records...)
	SortRecords(rs)

	ins := Insights{
		GeneratedAt:       now.UTC(),
		TotalInteractions: len(rs),
		ActiveHours:       map[int]int{},
		Trend:             TrendInsufficientData,
	}
	emotions := map[string]int{}
	books := map[string]int{}
	playlists := map[string]int{}
	played := 0
	cutoff := now.Add(-7 * 24 * time.Hour)
	for _, r := range rs {
		e := normalizeEmotion(r.Emotion)
		emotions[e]++
		if b := r.PrimaryBook(); b != noBook {
			books[b]++
		}
		if r.Playlist != "" {
			playlists[r.Playlist]++
		}
		if r.MusicStatus == PlaybackSuccess {
			played++
		}
		ins.ActiveHours[r.Timestamp.Hour()]++
		if !r.Timestamp.Before(cutoff) {
			ins.RecentEmotions = append(ins.RecentEmotions, e)
			ins.Recent = append(ins.Recent, r)
		}
	}
	ins.MostCommonEmotions = topCounts(emotions, 5)
	ins.PreferredBooks = topCounts(books, 3)
	ins.PreferredPlaylists = topCounts(playlists, 3)
	if len(rs) > 0 {
		ins.MusicSuccessRate = float64(played) / float64(len(rs))
	}
	ins.Trend, ins.TrendSlope = emotionalTrend(ins.RecentEmotions)
	ins.Recommendations = recommendations(ins)
	return ins
}

func topCounts(m map[string]int, n int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// emotionalTrend fits a least-squares line through the valence of each emotion in order.
func emotionalTrend(emotions []string) (string, float64) {
	if len(emotions) < 3 {
		return TrendInsufficientData, 0
	}
	n := float64(len(emotions))
	var sx, sy, sxy, sxx float64
	for i, e := range emotions {
		x, y := float64(i), emotionValence[e]
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return TrendStable, 0
	}
	slope := (n*sxy - sx*sy) / den
	switch {
	case slope > 0.1:
		return TrendImproving, slope
	case slope < -0.1:
		return TrendDeclining, slope
	default:
		return TrendStable, slope
	}
}

func recommendations(ins Insights) []string {
	var out []string
	if len(ins.MostCommonEmotions) > 0 {
		out = append(out, fmt.Sprintf("You frequently experience %s - consider exploring coping strategies for this emotion", ins.MostCommonEmotions[0].Key))
	}
	if len(ins.PreferredBooks) > 0 {
		out = append(out, fmt.Sprintf("You resonate with %s philosophy - consider deeper study of this tradition", ins.PreferredBooks[0].Key))
	}
	switch ins.Trend {
	case TrendImproving:
		out = append(out, "Your emotional state is trending positive - continue current practices")
	case TrendDeclining:
		out = append(out, "Consider additional support - your emotional trend suggests need for extra care")
	}
	return out
}

// RenderInsightsMarkdown renders ins as a markdown report. maxRecent caps the recent
// interaction table; zero means 20.
func RenderInsightsMarkdown(ins Insights, maxRecent int) string {
	if maxRecent <= 0 {
		maxRecent = 20
	}
	var b strings.Builder
	b.WriteString("# Emotional insights\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", ins.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Interactions: %d\n", ins.TotalInteractions)
	fmt.Fprintf(&b, "- Trend: %s (slope %.3f)\n", ins.Trend, ins.TrendSlope)
	fmt.Fprintf(&b, "- Music success rate: %.0f%%\n\n", ins.MusicSuccessRate*100)

	writeCounts := func(title string, cs []Count) {
		fmt.Fprintf(&b, "## %s\n\n", title)
		if len(cs) == 0 {
			b.WriteString("_none yet_\n\n")
			return
		}
		for _, c := range cs {
			fmt.Fprintf(&b, "- %s: %d\n", c.Key, c.Count)
		}
		b.WriteString("\n")
	}
	writeCounts("Most common emotions", ins.MostCommonEmotions)
	writeCounts("Preferred books", ins.PreferredBooks)
	writeCounts("Preferred playlists", ins.PreferredPlaylists)

	if len(ins.ActiveHours) > 0 {
		b.WriteString("## Active hours (UTC)\n\n")
		hours := make([]int, 0, len(ins.ActiveHours))
		for h := range ins.ActiveHours {
			hours = append(hours, h)
		}
		sort.Ints(hours)
		for _, h := range hours {
			fmt.Fprintf(&b, "- %02d:00: %d\n", h, ins.ActiveHours[h])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recommendations\n\n")
	if len(ins.Recommendations) == 0 {
		b.WriteString("_none yet_\n")
	}
	for _, r := range ins.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	if len(ins.Recent) > 0 {
		b.WriteString("\n## Last 7 days\n\n| When | Emotion | Book | Playlist | Music | Input |\n|---|---|---|---|---|---|\n")
		recent := ins.Recent
		if len(recent) > maxRecent {
			recent = recent[len(recent)-maxRecent:]
		}
		for _, r := range recent {
			input := strings.ReplaceAll(fileutils.SanitizeNewlines(fileutils.Truncate(r.UserInput, 80)), "|", "\\|")
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				r.Timestamp.UTC().Format("2006-01-02 15:04"), r.Emotion, r.PrimaryBook(), r.Playlist, r.MusicStatus, input)
		}
	}
	return b.String()
}
