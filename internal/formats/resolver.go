// Package formats turns the engine's raw format list into the ranked,
// deduplicated options shown to users.
package formats

import (
	"fmt"

	"streamsaver/pkg/models"
)

const (
	AudioOnlyLabel     = "Audio Only (MP3)"
	AudioOnlyExtension = "mp3"
	UnknownSize        = "Unknown"

	preferredContainer = "mp4"
	bytesPerMB         = 1024 * 1024
)

// bucket is a resolution tier; buckets are ordered highest first
type bucket struct {
	minHeight int
	label     string
}

var buckets = []bucket{
	{2160, "4k"},
	{1440, "2k"},
	{1080, "1080p"},
	{720, "720p"},
	{480, "480p"},
	{0, "360p"},
}

// Label returns the resolution label for a positive height
func Label(height int) string {
	return buckets[bucketIndex(height)].label
}

func bucketIndex(height int) int {
	for i, b := range buckets {
		if height >= b.minHeight {
			return i
		}
	}
	return len(buckets) - 1
}

// Resolve projects records into options: the best audio-only option first,
// then one option per resolution label in descending resolution. Within a
// label the first record wins unless a later one is mp4 and it is not.
func Resolve(records []models.FormatRecord) []models.FormatOption {
	reps := make([]*models.FormatRecord, len(buckets))

	for i := range records {
		rec := &records[i]
		if rec.Height <= 0 {
			continue
		}
		idx := bucketIndex(rec.Height)
		cur := reps[idx]
		if cur == nil || (rec.Extension == preferredContainer && cur.Extension != preferredContainer) {
			reps[idx] = rec
		}
	}

	options := make([]models.FormatOption, 0, len(buckets)+1)
	if audio := BestAudio(records); audio != nil {
		options = append(options, models.FormatOption{
			ID:          audio.FormatID,
			Label:       AudioOnlyLabel,
			SizeDisplay: SizeDisplay(audio.FileSizeBytes),
			Extension:   AudioOnlyExtension,
		})
	}

	// buckets are declared highest first, so reps is already ranked
	for i, rec := range reps {
		if rec == nil {
			continue
		}
		options = append(options, models.FormatOption{
			ID:          rec.FormatID,
			Label:       buckets[i].label,
			SizeDisplay: SizeDisplay(rec.FileSizeBytes),
			Extension:   rec.Extension,
		})
	}

	return options
}

// BestAudio picks the audio-only record with the highest average bitrate.
// Records without a bitrate rank lowest; ties go to the first seen.
func BestAudio(records []models.FormatRecord) *models.FormatRecord {
	var best *models.FormatRecord
	bestRate := -1.0

	for i := range records {
		rec := &records[i]
		if !rec.IsAudioOnly() {
			continue
		}
		rate := 0.0
		if rec.AverageBitrate != nil {
			rate = *rec.AverageBitrate
		}
		if best == nil || rate > bestRate {
			best = rec
			bestRate = rate
		}
	}
	return best
}

// SizeDisplay renders a byte count as whole megabytes
func SizeDisplay(size *int64) string {
	if size == nil || *size == 0 {
		return UnknownSize
	}
	return fmt.Sprintf("%dMB", *size/bytesPerMB)
}
