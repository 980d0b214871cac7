package annotate

import (
	"strconv"
	"strings"
	"time"
)

// messageDate is the export's local "date", or the RFC 3339 UTC form of
// "date_unixtime" when only that is present.
func messageDate(m Message) string {
	if d := strings.TrimSpace(m.Date); d != "" {
		return d
	}
	return unixISO8601(m.DateUnixtime)
}

func unixISO8601(unix string) string {
	secs, err := strconv.ParseInt(strings.TrimSpace(unix), 10, 64)
	// Non-positive values are treated as unset rather than rendered as 1970.
	if err != nil || secs <= 0 {
		return ""
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}
