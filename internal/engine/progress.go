package engine

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)
	// yt-dlp prints "ETA 01:23"; aria2c prints "ETA:1m23s"
	etaPattern = regexp.MustCompile(`ETA[:\s]\s*((?:\d+h)?(?:\d+m)?\d+s|\d+h(?:\d+m)?|\d+m|(?:\d+:)*\d+)`)
)

// ProgressFunc receives one parsed engine output line
type ProgressFunc func(percent float64, etaSeconds int64, line string)

// ProgressParser turns raw engine lines into progress values. Lines
// without a reading repeat the last known values.
type ProgressParser struct {
	percent float64
	eta     int64
}

// NewProgressParser starts at 0% with an unknown (-1) ETA
func NewProgressParser() *ProgressParser {
	return &ProgressParser{eta: -1}
}

// Parse reads one line
func (p *ProgressParser) Parse(line string) (float64, int64) {
	if !isProgressLine(line) {
		return p.percent, p.eta
	}

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 100 {
			p.percent = v
		}
	}
	if m := etaPattern.FindStringSubmatch(line); m != nil {
		if v, ok := parseETA(m[1]); ok {
			p.eta = v
		}
	}
	return p.percent, p.eta
}

func isProgressLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "[download]") || strings.HasPrefix(line, "[#")
}

func parseETA(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if strings.Contains(s, ":") || isDigits(s) {
		var total int64
		for _, part := range strings.Split(s, ":") {
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return 0, false
			}
			total = total*60 + n
		}
		return total, true
	}

	var total, n int64
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int64(c-'0')
		case c == 'h':
			total += n * 3600
			n = 0
		case c == 'm':
			total += n * 60
			n = 0
		case c == 's':
			total += n
			n = 0
		default:
			return 0, false
		}
	}
	return total, true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
