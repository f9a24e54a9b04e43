package nzb

import (
	"html"
	"regexp"
	"strings"
)

var (
	reYencSuffix  = regexp.MustCompile(`(?i)\s+yenc.*$`)
	reLeadCounter = regexp.MustCompile(`^\[\d+/\d+\]\s+`)
	reBadChars    = regexp.MustCompile(`[\\/:*?"<>|]`)
	rePar2Vol     = regexp.MustCompile(`(?i)\.vol\d+\+\d+\.par2$`)
)

// SanitizeSubject extracts a usable filename from a Usenet subject line.
func SanitizeSubject(subject string) string {
	res := html.UnescapeString(subject)

	// Pattern A: contents inside double quotes
	firstQuote := strings.Index(res, "\"")
	lastQuote := strings.LastIndex(res, "\"")
	if firstQuote != -1 && lastQuote != -1 && firstQuote < lastQuote {
		res = res[firstQuote+1 : lastQuote]
	} else {
		// Pattern B: strip Usenet metadata. Removes (1/14) or [01/14]
		// counters and the trailing "yenc" marker.
		res = reYencSuffix.ReplaceAllString(res, "")
		res = reLeadCounter.ReplaceAllString(res, "")
	}

	// Remove characters unsafe on Windows/Linux/macOS
	res = reBadChars.ReplaceAllString(res, "_")

	return strings.TrimSpace(res)
}

// IsPar2 reports whether a filename belongs to a PAR2 recovery set, and if
// so the set name the volumes repair.
func IsPar2(filename string) (bool, string) {
	lower := strings.ToLower(filename)
	if !strings.HasSuffix(lower, ".par2") {
		return false, ""
	}

	if loc := rePar2Vol.FindStringIndex(filename); loc != nil {
		return true, filename[:loc[0]]
	}
	return true, filename[:len(filename)-len(".par2")]
}
