package backup

import (
	"regexp"
	"strings"
)

var (
	unsafeRe   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	nonDigitRe = regexp.MustCompile(`[^0-9]`)

	pathChars = strings.NewReplacer(
		"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
		`"`, "_", "<", "_", ">", "_", "|", "_",
	)
)

// APIFilename maps a path-like KeyName (/erp/projects) to _erp_projects.json.
// Used by apis, libraries and webapps.
func APIFilename(id string) string {
	return "_" + pathChars.Replace(strings.TrimLeft(id, "/")) + ".json"
}

// ProcessFilename replaces path characters and keeps the rest of the id.
func ProcessFilename(id string) string {
	return pathChars.Replace(id) + ".json"
}

// Safe replaces anything outside [A-Za-z0-9_-] with "_".
func Safe(s string) string {
	return unsafeRe.ReplaceAllString(s, "_")
}

func SafeFilename(id string) string {
	return Safe(id) + ".json"
}

// LocalizeFilename keeps the App;Cat;Code separators readable as "__".
func LocalizeFilename(id string) string {
	return Safe(strings.ReplaceAll(id, ";", "__")) + ".json"
}

// DigitsFilename is for numeric KeyIds.
func DigitsFilename(id string) string {
	return nonDigitRe.ReplaceAllString(id, "") + ".json"
}

func ChecksFilename(entity, id string) string {
	return Safe(entity) + "__" + Safe(id) + ".json"
}

func CFOFilename(id string) string {
	return id + ".json"
}
