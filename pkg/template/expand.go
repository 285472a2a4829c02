// Package template expands placeholders in snapshot name templates.
package template

import (
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DefaultSnapshotName is used when no template is configured.
const DefaultSnapshotName = "{volume}-{datetime}"

// Expand expands template placeholders in text at time now.
//
// Supported placeholders:
//
//	{date}      - date as YYYY-MM-DD
//	{time}      - time as HHMMSS
//	{datetime}  - date and time as YYYYMMDD-HHMMSS
//	{unix}      - Unix timestamp
//	{user}      - current username
//	{hostname}  - short host name
//	{arch}      - system architecture (e.g., amd64, arm64)
//
// Values in vars override built-in placeholders. Unknown placeholders are
// left untouched.
func Expand(text string, vars map[string]string, now time.Time) string {
	placeholders := map[string]string{
		"date":     now.Format("2006-01-02"),
		"time":     now.Format("150405"),
		"datetime": now.Format("20060102-150405"),
		"unix":     strconv.FormatInt(now.Unix(), 10),
		"arch":     runtime.GOARCH,
		"user":     "unknown",
		"hostname": "unknown",
	}
	if strings.Contains(text, "{user}") {
		if u, err := user.Current(); err == nil {
			placeholders["user"] = u.Username
		}
	}
	if strings.Contains(text, "{hostname}") {
		if h, err := os.Hostname(); err == nil {
			placeholders["hostname"] = strings.Split(h, ".")[0]
		}
	}
	for k, v := range vars {
		placeholders[k] = v
	}

	result := text
	for key, value := range placeholders {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

// SnapshotName expands tmpl for a snapshot of the named volume. An empty
// tmpl uses DefaultSnapshotName.
func SnapshotName(tmpl, volumeName string, volumeID uint64, now time.Time) string {
	if tmpl == "" {
		tmpl = DefaultSnapshotName
	}
	return Expand(tmpl, map[string]string{
		"volume":    volumeName,
		"volume_id": strconv.FormatUint(volumeID, 10),
	}, now)
}
