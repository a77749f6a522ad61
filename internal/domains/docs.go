package domains

import (
	"fmt"
	"strings"

	"cloudia/internal/backup"
	"cloudia/internal/record"
	"cloudia/internal/textutil"
)

const (
	devPrivileges = "development-admin,development-user"
	devDenied     = "development-admin"
)

func standardHelp(name, plural, singular, idHint string, examples ...string) []string {
	cmds := [][2]string{
		{"/backup-from-remote", "Backup all " + plural + " from remote platform"},
		{"/backup-from-remote?id=" + idHint, "Backup specific " + singular + " from remote platform"},
		{"/insert-from-backup?id=" + idHint, "Insert new " + singular + " in remote platform from local backup"},
		{"/update-from-backup?id=" + idHint, "Update existing " + singular + " in remote platform from local backup"},
		{"/list-remote", "List all " + plural + " in remote platform"},
		{"/list-local", "List all " + plural + " in local backup"},
	}
	ex := make([]string, 0, len(examples)+1)
	for _, e := range examples {
		ex = append(ex, fmt.Sprintf("%q", "_cloudia/"+name+"/backup-from-remote?id="+e))
	}
	ex = append(ex, "_cloudia/"+name+"/list-remote")
	return helpLines(cmds, ex)
}

// titleStatus is the " K - Title [Status]" line of apis and processes.
func titleStatus(r record.Record, key string) string {
	return fmt.Sprintf(" %s - %s [%s]", key, orNA(r, "Title"), orNA(r, "Status"))
}

// titleTypeStatus is the " K - Title [Type] [Status]" line of libraries and webapps.
func titleTypeStatus(r record.Record, key string) string {
	return fmt.Sprintf(" %s - %s [%s] [%s]", key, orNA(r, "Title"), orNA(r, "Type"), orNA(r, "Status"))
}

func pairSummary(format string) func(Stats) string {
	return func(s Stats) string {
		return fmt.Sprintf(format, s.Parents, s.Children, s.Saved, s.Unchanged)
	}
}

// APIs documents the platform REST APIs and their endpoints.
var APIs = &Domain{
	Name:       "apis",
	Dir:        "APIs",
	Entity:     "CloudFrameWorkDevDocumentationForAPIs",
	Singular:   "API",
	Plural:     "APIs",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Nested,
	Children: &Children{
		Entity:   "CloudFrameWorkDevDocumentationForAPIEndPoints",
		Link:     "API",
		Sort:     "KeyName",
		Title:    "EndPoint",
		Noun:     "endpoints",
		NounOne:  "endpoint",
		Label:    "Endpoints",
		FetchOne: "endpoints for API",
	},
	Pair:            "APIs/Endpoints",
	LeadingSlash:    true,
	Filename:        backup.APIFilename,
	Fields:          "KeyName,Title,Status",
	Order:           "KeyName",
	Line:            titleStatus,
	CompareLine:     " - Fetching remote API for comparison...",
	CompareChildren: true,
	RuleOnUnchanged: true,
	Summary:         pairSummary(" - Total APIs/Endpoints: %d/%d (saved: %d, unchanged: %d)"),
	UsageID:         "/path/to/api",
	Help:            standardHelp("apis", "APIs", "API", "/x", "/erp/projects"),
}

var Libraries = &Domain{
	Name:       "libraries",
	Dir:        "Libraries",
	Entity:     "CloudFrameWorkDevDocumentationForLibraries",
	Singular:   "Library",
	Plural:     "Libraries",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Nested,
	Children: &Children{
		Entity:   "CloudFrameWorkDevDocumentationForLibrariesModules",
		Link:     "Library",
		Sort:     "KeyId",
		Title:    "Title",
		Noun:     "modules",
		NounOne:  "module",
		Label:    "Modules",
		FetchOne: "modules for Library",
	},
	Pair:            "Libraries/Modules",
	LeadingSlash:    true,
	Filename:        backup.APIFilename,
	Fields:          "KeyName,Title,Status,Type",
	Order:           "KeyName",
	Line:            titleTypeStatus,
	CompareLine:     " - Fetching remote Library data for comparison...",
	UnchangedEntity: true,
	Summary:         pairSummary(" - Total Libraries/Modules processed: %d/%d (saved: %d, unchanged: %d)"),
	UsageID:         "/path/to/library",
	Help:            standardHelp("libraries", "Libraries", "Library", "/x", "/api-dev/class/CloudAI"),
}

var WebApps = &Domain{
	Name:       "webapps",
	Dir:        "WebApps",
	Entity:     "CloudFrameWorkDevDocumentationForWebApps",
	Singular:   "WebApp",
	Plural:     "WebApps",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Nested,
	Children: &Children{
		Entity:   "CloudFrameWorkDevDocumentationForWebAppsModules",
		Link:     "WebApp",
		Sort:     "KeyId",
		Title:    "Title",
		Noun:     "modules",
		NounOne:  "module",
		Label:    "Modules",
		FetchOne: "modules for WebApp",
		Validate: true,
	},
	Pair:            "WebApps/Modules",
	LeadingSlash:    true,
	Filename:        backup.APIFilename,
	Fields:          "KeyName,Title,Status,Type",
	Order:           "KeyName",
	Line:            titleTypeStatus,
	CompareLine:     " - Fetching remote WebApp for comparison...",
	UnchangedEntity: true,
	InsertedKey:     true,
	Summary:         pairSummary(" - Total WebApps/Modules: %d/%d (saved: %d, unchanged: %d)"),
	UsageID:         "/path/to/webapp",
	Help:            standardHelp("webapps", "WebApps", "WebApp", "/path", "/verticals/hrms/init-employee-hiring"),
}

var Processes = &Domain{
	Name:       "processes",
	Dir:        "Processes",
	Entity:     "CloudFrameWorkDevDocumentationForProcesses",
	Singular:   "Process",
	Plural:     "Processes",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Nested,
	Children: &Children{
		Entity:   "CloudFrameWorkDevDocumentationForSubProcesses",
		Link:     "Process",
		Sort:     "KeyId",
		Noun:     "subprocesses",
		NounOne:  "subprocess",
		Label:    "SubProcesses",
		FetchOne: "all SubProcesses",
	},
	Pair:            "Processes/Subprocesses",
	Filename:        backup.ProcessFilename,
	Fields:          "KeyName,Title,Status",
	Order:           "KeyName",
	Line:            titleStatus,
	CompareLine:     " - Fetching remote Process for comparison...",
	UnchangedEntity: true,
	InsertedKey:     true,
	Summary:         pairSummary(" - Total Processes/Subprocesses: %d/%d (saved: %d, unchanged: %d)"),
	UsageID:         "PROCESS_ID",
	Help:            standardHelp("processes", "Processes", "Process", "xx", "HIPOTECH-001"),
}

var DevGroups = &Domain{
	Name:       "devgroups",
	Dir:        "DevelopmentGroups",
	Entity:     "CloudFrameWorkDevDocumentation",
	Singular:   "Development Group",
	Plural:     "Development Groups",
	Privileges: devPrivileges,
	Denied:     devPrivileges,
	Layout:     Flat,
	Filename:   backup.SafeFilename,
	Fields:     "KeyName,Title,Cat,Status,Owner",
	Order:      "KeyName",
	Width:      80,
	Line: func(r record.Record, key string) string {
		var cat, owner string
		if c := r.Str("Cat"); c != "" {
			cat = " [" + c + "]"
		}
		if o := r.Str("Owner"); o != "" {
			owner = " by " + o
		}
		return fmt.Sprintf(" %s%s - %s [%s]%s", key, cat, orNA(r, "Title"), orNA(r, "Status"), owner)
	},
	InsertedKey: true,
	Summary: func(s Stats) string {
		return fmt.Sprintf(" - Total Development Groups saved: %d (saved: %d, unchanged: %d)", s.Saved+s.Unchanged, s.Saved, s.Unchanged)
	},
	UsageID: "/cf/products/my-product",
	Help: append(standardHelp("devgroups", "Development Groups", "Development Group", "KEY", "/cf/products/cloud-documentum"),
		"", "Note: The ?id= parameter is the Development Group KeyName (e.g., /cf/products/cloud-documentum)"),
}

var Menu = &Domain{
	Name:       "menu",
	Dir:        "Menus",
	Entity:     "CloudFrameWorkModules",
	Singular:   "Menu Module",
	Plural:     "Menu Modules",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Wrapped,
	Filename:   backup.SafeFilename,
	Fields:     "KeyName,ModuleName,Active",
	Order:      "ModuleName",
	Width:      80,
	Table: &Table{
		Format:  "%-30s %-40s %s",
		Headers: []any{"KeyName", "ModuleName", "Active"},
		Row: func(r record.Record, key string) []any {
			return []any{textutil.Prefix(key, 30), textutil.Prefix(r.Str("ModuleName"), 40), textutil.YesNo(r.Bool("Active"))}
		},
	},
	SkipFiles:   []string{"_all_modules.json"},
	CompareLine: " - Fetching remote Menu Module for comparison...",
	Summary: func(s Stats) string {
		return fmt.Sprintf(" - Total Menu Modules processed: %d (saved: %d, unchanged: %d)", s.Saved+s.Unchanged, s.Saved, s.Unchanged)
	},
	UsageID: "module-key",
	Help:    standardHelp("menu", "Menu Modules", "Menu Module", "key", "development"),
}

var Resources = &Domain{
	Name:       "resources",
	Dir:        "Resources",
	Entity:     "CloudFrameWorkInfrastructureResources",
	Singular:   "Resource",
	Plural:     "Resources",
	Privileges: devPrivileges,
	Denied:     devDenied,
	Layout:     Wrapped,
	Filename:   backup.SafeFilename,
	Fields:     "KeyName,Category,Type,Active",
	Order:      "KeyName",
	Width:      80,
	Table: &Table{
		Format:  "%-40s %-15s %-15s %s",
		Headers: []any{"KeyName", "Category", "Type", "Active"},
		Row: func(r record.Record, key string) []any {
			return []any{
				textutil.Prefix(key, 40),
				textutil.Prefix(r.Str("Category"), 15),
				textutil.Prefix(r.Str("Type"), 15),
				textutil.YesNo(r.Bool("Active")),
			}
		},
	},
	SkipFiles: []string{"_all_resources.json"},
	Summary: func(s Stats) string {
		return fmt.Sprintf(" - Total Resources saved: %d (%d active, %d inactive)", s.Saved+s.Unchanged, s.Active, s.Inactive)
	},
	UsageID: "resource-key",
	Help:    standardHelp("resources", "Resources", "Resource", "key", "my-server-01"),
}

var Localize = &Domain{
	Name:       "localize",
	Dir:        "Localize",
	Entity:     "CloudFrameWorkLocalizations",
	Singular:   "Localization",
	Plural:     "Localizations",
	Privileges: "development-admin,development-user,localization-admin",
	Denied:     "development-admin,localization-admin",
	Layout:     Wrapped,
	Filename:   backup.LocalizeFilename,
	Fields:     "KeyName,App,Cat,Code,Lang,Default,Translations",
	Order:      "App,Cat,Code",
	Width:      100,
	Table: &Table{
		Format:  "%-20s %-15s %-20s %-5s %-30s %s",
		Headers: []any{"App", "Cat", "Code", "Lang", "Default", "Translations"},
		Row: func(r record.Record, _ string) []any {
			return []any{
				textutil.Prefix(r.Str("App"), 20),
				textutil.Prefix(r.Str("Cat"), 15),
				textutil.Prefix(r.Str("Code"), 20),
				textutil.Prefix(r.Str("Lang"), 5),
				textutil.Prefix(r.Str("Default"), 30),
				textutil.Prefix(strings.Join(r.Strings("Translations"), ","), 15),
			}
		},
	},
	Filters:         []Filter{{Param: "app", Field: "App"}, {Param: "cat", Field: "Cat"}},
	CompareLine:     " - Fetching remote Localization for comparison...",
	RuleOnUnchanged: true,
	Summary: func(s Stats) string {
		return fmt.Sprintf(" - Total Localizations: %d (saved: %d, unchanged: %d)", s.Parents, s.Saved, s.Unchanged)
	},
	UsageID: "app;cat;code",
	Help: helpLines([][2]string{
		{"/backup-from-remote", "Backup all Localizations from remote platform"},
		{"/backup-from-remote?id=key", "Backup specific Localization from remote platform"},
		{"/backup-from-remote?app=myapp", "Backup all Localizations for an App"},
		{"/backup-from-remote?app=myapp&cat=cat", "Backup Localizations for App and Category"},
		{"/insert-from-backup?id=key", "Insert new Localization in remote platform from local backup"},
		{"/update-from-backup?id=key", "Update existing Localization in remote platform from local backup"},
		{"/list-remote", "List all Localizations in remote platform"},
		{"/list-remote?app=myapp", "List Localizations for an App"},
		{"/list-local", "List all Localizations in local backup"},
	}, []string{
		`"_cloudia/localize/backup-from-remote?id=myapp;mycat;mycode"`,
		`"_cloudia/localize/backup-from-remote?app=cloudframework&cat=common"`,
		"_cloudia/localize/list-remote",
	}),
}
