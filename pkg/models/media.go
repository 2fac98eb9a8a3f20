package models

// MediaInfo represents the metadata the extraction engine reports for a URL
type MediaInfo struct {
	Title           string         `json:"title"`
	ThumbnailURL    string         `json:"thumbnail"`
	Description     string         `json:"description"`
	DurationSeconds int64          `json:"duration"`
	Tags            []string       `json:"tags"`
	Formats         []FormatRecord `json:"formats"`
}

// FormatRecord is a single raw format as reported by the engine.
// Optional fields are nil when the engine did not report them.
type FormatRecord struct {
	FormatID       string   `json:"formatId"`
	Height         int      `json:"height"`
	FileSizeBytes  *int64   `json:"fileSize,omitempty"`
	Extension      string   `json:"ext"`
	AudioCodec     *string  `json:"acodec,omitempty"`
	VideoCodec     *string  `json:"vcodec,omitempty"`
	AverageBitrate *float64 `json:"abr,omitempty"`
}

// IsAudioOnly reports whether the record carries audio and no video
func (f FormatRecord) IsAudioOnly() bool {
	return f.AudioCodec != nil && f.VideoCodec == nil
}

// FormatOption is the user-facing projection of a FormatRecord
type FormatOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	SizeDisplay string `json:"size"`
	Extension   string `json:"ext"`
}

// DownloadRequest represents a single download call
type DownloadRequest struct {
	SourceURL   string `json:"url"`
	FormatID    string `json:"formatId"`
	IsAudioOnly bool   `json:"isAudio"`
	TitleHint   string `json:"title"`
}

// ProgressEvent is emitted while a download is in flight
type ProgressEvent struct {
	DownloadID             string  `json:"downloadId"`
	SourceURL              string  `json:"url"`
	PercentComplete        float64 `json:"progress"`
	EstimatedTimeRemaining int64   `json:"eta"`
	RawLogLine             string  `json:"line"`
}

// ExtractionResult is produced by the content extractor bridge
type ExtractionResult struct {
	VideoURL     *string `json:"videoUrl,omitempty"`
	ThumbnailURL *string `json:"thumbnail,omitempty"`
	Caption      *string `json:"caption,omitempty"`
	Username     *string `json:"username,omitempty"`
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
