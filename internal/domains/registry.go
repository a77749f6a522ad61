package domains

import (
	"sort"

	"cloudia/internal/activity"
	"cloudia/internal/script"
	"cloudia/internal/tasks"
)

// Documentation lists the generic backup/restore domains.
var Documentation = []*Domain{APIs, Libraries, WebApps, Processes, DevGroups, Menu, Resources, Localize}

// Scripts returns every _cloudia script keyed by name.
func Scripts() map[string]*script.Script {
	out := map[string]*script.Script{}
	for _, d := range Documentation {
		out[d.Name] = d.Script()
	}
	for _, s := range []*script.Script{
		CFOs(),
		WebPages(),
		Courses(),
		Projects(),
		Checks(),
		Auth(),
		tasks.Script(),
		activity.Script(),
	} {
		out[s.Name] = s
	}
	return out
}

// Names returns the script names, sorted.
func Names() []string {
	all := Scripts()
	out := make([]string, 0, len(all))
	for k := range all {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BackupDirs maps script names to the directory their backups live in.
func BackupDirs() map[string]string {
	out := map[string]string{
		"cfos":     "CFOs",
		"webpages": pagesDir,
		"courses":  coursesDir,
		"projects": projectsDir,
		"checks":   checksDir,
	}
	for _, d := range Documentation {
		out[d.Name] = d.Dir
	}
	return out
}
