// Package tasks implements the _cloudia/tasks script: listings of project
// tasks for the signed-in user plus single task get, update and insert.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/terminal"
	"cloudia/internal/textutil"
)

const (
	Entity       = "CloudFrameWorkProjectsTasks"
	sprintEntity = "CloudFrameWorkProjectsSprints"

	Privileges = "development-admin,development-user,projects-admin"
	Denied     = "development-admin,projects-admin"

	width = 100
)

var help = []string{
	"  /list                          - List my open tasks",
	"  /today                         - List tasks active for today",
	"  /sprint                        - List tasks in current sprint",
	"  /project?id=KEY                - List tasks for a specific project",
	"  /person?email=EMAIL            - List tasks for a specific person",
	"  /get?id=TASK_KEYID             - Get detailed task information",
	"  /insert?json={...}             - Create a new task from JSON",
	"  /put?id=TASK_KEYID&json={...}  - Update a task from JSON",
	"  /search?status=STATE           - Search tasks by filters",
	"",
	"Filter parameters for /search:",
	"  status    - Task status (pending, in-progress, in-qa, closed, blocked, etc.)",
	"  priority  - Task priority (very_high, high, medium, low, very_low)",
	"  project   - Project KeyName",
	"  assigned  - Assigned user email",
	"",
	"Examples:",
	"  cloudia run _cloudia/tasks/list",
	"  cloudia run _cloudia/tasks/today",
	`  cloudia run "_cloudia/tasks/person?email=user@example.com"`,
	`  cloudia run "_cloudia/tasks/get?id=5734953457745920"`,
	`  cloudia run '_cloudia/tasks/insert?json={"ProjectId":"my-project","Title":"New Task"}'`,
	`  cloudia run '_cloudia/tasks/update?id=5734953457745920&json={"Status":"closed"}'`,
	`  cloudia run "_cloudia/tasks/search?status=in-progress&priority=high"`,
}

func Script() *script.Script {
	return &script.Script{
		Name:       "tasks",
		Privileges: Privileges,
		Denied:     Denied,
		Help:       help,
		Methods: map[string]script.Method{
			"list":     List,
			"my-tasks": List,
			"today":    today,
			"sprint":   sprint,
			"project":  project,
			"person":   person,
			"get":      get,
			"update":   update,
			"put":      update,
			"insert":   insert,
			"search":   search,
		},
	}
}

func userID(env *script.Env) string {
	if env.User == nil {
		return ""
	}
	return env.User.ID
}

func heading(out *terminal.Printer, format string, a ...any) {
	out.Blank()
	out.Linef(format, a...)
	out.Rule(width)
}

// List prints the open tasks assigned to the current user. Also served as
// projects/my-tasks.
func List(ctx context.Context, env *script.Env) error {
	u := userID(env)
	heading(env.Out, "My open tasks [%s]:", u)
	p := cfo.NewParams().
		Filter("Open", "true").
		Filter("PlayerId", u).
		Order("-Priority,DateDeadLine").
		CFOLimit(100)
	return fetchAndPrint(ctx, env, p, u)
}

func today(ctx context.Context, env *script.Env) error {
	u := userID(env)
	heading(env.Out, "Tasks for today [%s]:", u)
	p := cfo.NewParams().
		Filter("Open", "true").
		Filter("PlayerId", u).
		Range("DateInit", "<=", env.Now().Format("2006-01-02")).
		Order("-Priority,DateDeadLine").
		CFOLimit(100)
	return fetchAndPrint(ctx, env, p, u)
}

func sprint(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Blank()
	out.Line("Fetching current sprint...")
	day := env.Now().Format("2006-01-02")
	sprints, err := env.API.List(ctx, sprintEntity, cfo.NewParams().
		Filter("Active", "true").
		Range("DateInit", "<=", day).
		Range("DateEnd", ">=", day).
		Order("-DateInit").
		CFOLimit(1))
	if err != nil {
		return err
	}
	if len(sprints) == 0 {
		out.Line("No active sprint found for today")
		return nil
	}
	s := sprints[0]
	id := s.Str("KeyId")
	out.Blank()
	out.Linef("Current Sprint: %s (ID: %s)", s.Or("Title", "Untitled Sprint"), id)
	out.Linef("Period: %s to %s", s.Str("DateInit"), s.Str("DateEnd"))
	out.Rule(width)

	u := userID(env)
	p := cfo.NewParams().
		Filter("SprintIds", id).
		Filter("PlayerId", u).
		Order("-Priority,Status").
		CFOLimit(200)
	return fetchAndPrint(ctx, env, p, u)
}

func project(ctx context.Context, env *script.Env) error {
	id := env.Params.Get("id")
	if id == "" {
		return errors.New("Missing required parameter: id. Usage: _cloudia/tasks/project?id=project-keyname")
	}
	heading(env.Out, "Tasks for project [%s]:", id)
	p := cfo.NewParams().
		Filter("ProjectId", id).
		Order("-Priority,Status,DateDeadLine").
		CFOLimit(500)
	return fetchAndPrint(ctx, env, p, userID(env))
}

func person(ctx context.Context, env *script.Env) error {
	email := env.Params.Get("email")
	if email == "" {
		return errors.New("Missing required parameter: email. Usage: _cloudia/tasks/person?email=user@example.com")
	}
	onlyOpen := !env.Params.Has("open") || env.Params.Get("open") == "true"
	suffix := ""
	if onlyOpen {
		suffix = " (open only)"
	}
	heading(env.Out, "Tasks for person [%s]%s:", email, suffix)

	p := cfo.NewParams().
		Filter("PlayerId", email).
		Order("-Priority,Status,DateDeadLine").
		CFOLimit(500)
	if onlyOpen {
		p.Filter("Open", "true")
	}
	if s := env.Params.Get("status"); s != "" {
		p.Filter("Status", s)
	}
	if pr := env.Params.Get("project"); pr != "" {
		p.Filter("ProjectId", pr)
	}
	return fetchAndPrint(ctx, env, p, email)
}

func search(ctx context.Context, env *script.Env) error {
	p := cfo.NewParams().Order("-Priority,Status,DateDeadLine").CFOLimit(200)
	var desc []string
	for _, f := range []struct{ param, field string }{
		{"status", "Status"},
		{"priority", "Priority"},
		{"project", "ProjectId"},
		{"assigned", "PlayerId"},
		{"open", "Open"},
	} {
		if v := env.Params.Get(f.param); v != "" {
			p.Filter(f.field, v)
			desc = append(desc, f.param+"="+v)
		}
	}
	title := "Search tasks"
	if len(desc) > 0 {
		title += " [" + strings.Join(desc, ", ") + "]"
	}
	heading(env.Out, "%s:", title)
	return fetchAndPrint(ctx, env, p, userID(env))
}

func fetchAndPrint(ctx context.Context, env *script.Env, p *cfo.Params, user string) error {
	tasks, err := env.API.List(ctx, Entity, p)
	if err != nil {
		return err
	}
	PrintList(env.Out, tasks, user)
	return nil
}

var priorityIcons = map[string]string{
	"very_high": "!!!",
	"high":      "!! ",
	"medium":    "!  ",
	"low":       ".  ",
}

func icon(priority string) string {
	if i, ok := priorityIcons[priority]; ok {
		return i
	}
	return "   "
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintList renders tasks two lines each, followed by totals per status.
func PrintList(out *terminal.Printer, tasks []record.Record, user string) {
	if len(tasks) == 0 {
		out.Line("No tasks found")
		out.Rule(width)
		out.Line("Total: 0 tasks")
		return
	}

	var statuses []string
	byStatus := map[string]int{}
	for _, t := range tasks {
		s := t.Or("Status", "unknown")
		if _, seen := byStatus[s]; !seen {
			statuses = append(statuses, s)
		}
		byStatus[s]++
	}

	for _, t := range tasks {
		milestone := ""
		if m := t.Str("MilestoneId"); m != "" {
			milestone = " | Milestone: " + m
		}
		out.Linef(" %s [%s] [%-12s] %s",
			icon(t.Or("Priority", "medium")),
			t.Or("KeyId", "N/A"),
			t.Or("Status", "N/A"),
			textutil.Cut(t.Or("Title", "Untitled"), 50, 47))
		out.Linef("     Project: %s%s | Deadline: %s | DueDate: %s | Time: %sh/%sh",
			t.Str("ProjectId"), milestone,
			orDash(t.Str("DateDeadLine")), orDash(t.Str("DateDueDate")),
			t.Or("TimeSpent", "0"), t.Or("TimeEstimated", "0"))
	}

	out.Rule(width)
	out.Linef("Total: %d tasks", len(tasks))
	summary := make([]string, 0, len(statuses))
	for _, s := range statuses {
		summary = append(summary, fmt.Sprintf("%s: %d", s, byStatus[s]))
	}
	out.Line("By status: " + strings.Join(summary, " | "))
	out.Linef("User: %s", user)
}

var detailFields = []struct{ key, label string }{
	{"KeyId", "ID"},
	{"Title", "Title"},
	{"ProjectId", "Project"},
	{"MilestoneId", "Milestone"},
	{"Status", "Status"},
	{"Priority", "Priority"},
	{"Open", "Open"},
	{"PlayerId", "Assigned To"},
	{"ReporterId", "Reporter"},
	{"DateInit", "Start Date"},
	{"DateDeadLine", "Deadline"},
	{"TimeEstimated", "Estimated Hours"},
	{"TimeSpent", "Spent Hours"},
	{"SprintIds", "Sprint IDs"},
	{"Tags", "Tags"},
	{"DateInserting", "Created"},
	{"DateUpdating", "Updated"},
}

// DetailValue renders a field for the " Label: value" detail views.
func DetailValue(v any) string {
	switch t := v.(type) {
	case bool:
		return textutil.YesNo(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			parts = append(parts, record.Text(it))
		}
		return strings.Join(parts, ", ")
	}
	return record.Text(v)
}

func printDetail(out *terminal.Printer, t record.Record) {
	for _, f := range detailFields {
		if v, ok := t[f.key]; ok && v != nil {
			out.Linef(" %-18s: %s", f.label, DetailValue(v))
		}
	}
	if d := t.Str("Description"); d != "" {
		out.Blank()
		out.Line(" Description:")
		out.Rule(50)
		out.Line(textutil.Description(d))
	}
	out.RuleOf("=", width)
}

func printJSON(out *terminal.Printer, v any) error {
	b, err := record.Pretty(v)
	if err != nil {
		return err
	}
	out.Line(string(b))
	return nil
}

func get(ctx context.Context, env *script.Env) error {
	out := env.Out
	id := env.Params.Get("id")
	if id == "" {
		return errors.New("Missing required parameter: id. Usage: _cloudia/tasks/get?id=TASK_KEYID")
	}
	out.Blank()
	out.Linef("Task Details [%s]:", id)
	out.RuleOf("=", width)

	t, err := env.API.Display(ctx, Entity, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("Task [%s] not found", id)
	}
	printDetail(out, t)

	out.Blank()
	out.Line("Raw JSON:")
	out.Rule(width)
	if err := printJSON(out, t); err != nil {
		return err
	}
	out.RuleOf("=", width)
	return nil
}

// readJSON takes the json parameter, else stdin.
func readJSON(env *script.Env, emptyMsg string) (record.Record, error) {
	raw := strings.TrimSpace(env.Params.Get("json"))
	if raw == "" && env.Stdin != nil {
		b, err := io.ReadAll(env.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read JSON from stdin: %w", err)
		}
		raw = strings.TrimSpace(string(b))
	}
	if raw == "" {
		return nil, errors.New("Missing JSON data. Provide via 'json' parameter or stdin")
	}
	v, err := record.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON: %s", err)
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, errors.New(emptyMsg)
	}
	return record.Record(obj), nil
}

// printFields lists each field of data as "   * f: v", keys sorted.
func printFields(out *terminal.Printer, data record.Record) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var s string
		switch v := data[k].(type) {
		case map[string]any, []any:
			b, _ := record.Compact(v)
			s = string(b)
		default:
			s = record.Text(v)
		}
		out.Linef("   * %s: %s", k, textutil.Cut(s, 80, 77))
	}
}

// apiFailure maps client errors to the "API Error" / "<what> failed" pair.
func apiFailure(what string, err error) error {
	var aerr *cfo.APIError
	if errors.As(err, &aerr) {
		return fmt.Errorf("%s failed: %s", what, aerr.Message)
	}
	return fmt.Errorf("API Error: %s", cfo.Message(err))
}

func update(ctx context.Context, env *script.Env) error {
	out := env.Out
	id := env.Params.Get("id")
	if id == "" {
		return errors.New("Missing required parameter: id. Usage: _cloudia/tasks/update?id=TASK_KEYID&json={...}")
	}
	data, err := readJSON(env, "JSON must be a non-empty object with fields to update")
	if err != nil {
		return err
	}

	out.Blank()
	out.Linef("Updating task [%s]...", id)
	out.Rule(width)
	current, err := env.API.Display(ctx, Entity, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("Task [%s] not found", id)
	}
	out.Linef(" - Current task: %s", current.Str("Title"))
	out.Linef(" - Status: %s | Open: %s", current.Str("Status"), textutil.YesNo(current.Bool("Open")))
	out.Blank()
	out.Line(" - Fields to update:")
	printFields(out, data)
	out.Blank()
	out.Line(" - Sending update to remote platform...")

	updated, err := env.API.Update(ctx, Entity, id, data)
	if err != nil {
		return apiFailure("Update", err)
	}
	out.Blank()
	if updated == nil {
		out.Line("Task updated (no data returned)")
		out.RuleOf("=", width)
		return nil
	}
	out.Line("Task updated successfully!")
	out.Rule(width)
	out.Linef(" - Title: %s", updated.Str("Title"))
	out.Linef(" - Status: %s", updated.Str("Status"))
	out.Linef(" - Open: %s", textutil.YesNo(updated.Bool("Open")))
	out.Linef(" - Updated: %s", updated.Str("DateUpdating"))
	out.Blank()
	out.Line("Updated JSON:")
	out.Rule(width)
	if err := printJSON(out, updated); err != nil {
		return err
	}
	out.RuleOf("=", width)
	return nil
}

func insert(ctx context.Context, env *script.Env) error {
	out := env.Out
	data, err := readJSON(env, "JSON must be a non-empty object with task fields")
	if err != nil {
		return err
	}
	if _, ok := data["KeyId"]; ok {
		out.Blank()
		out.Line("Warning: KeyId will be ignored (auto-generated on insert)")
		delete(data, "KeyId")
	}
	if !data.Has("ProjectId") {
		return errors.New("Missing required field: ProjectId")
	}
	if !data.Has("Title") {
		return errors.New("Missing required field: Title")
	}
	defaults := map[string]any{"Status": "pending", "Priority": "medium", "Open": true}
	for k, v := range defaults {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}

	out.Blank()
	out.Line("Creating new task...")
	out.Rule(width)
	out.Linef(" - Project: %s", data.Str("ProjectId"))
	out.Linef(" - Title: %s", data.Str("Title"))
	out.Linef(" - Status: %s", data.Str("Status"))
	out.Linef(" - Priority: %s", data.Str("Priority"))
	if data.Has("MilestoneId") {
		out.Linef(" - Milestone: %s", data.Str("MilestoneId"))
	}
	if data.Has("PlayerId") {
		out.Linef(" - Assigned: %s", strings.Join(data.Strings("PlayerId"), ", "))
	}
	out.Blank()
	out.Line(" - All fields:")
	printFields(out, data)
	out.Blank()
	out.Line(" - Sending to remote platform...")

	created, err := env.API.Insert(ctx, Entity, data)
	if err != nil {
		return apiFailure("Insert", err)
	}
	out.Blank()
	if created == nil {
		out.Line("Task created (no data returned)")
		out.RuleOf("=", width)
		return nil
	}
	out.Line("Task created successfully!")
	out.Rule(width)
	out.Linef(" - KeyId: %s", created.Str("KeyId"))
	out.Linef(" - Title: %s", created.Str("Title"))
	out.Linef(" - Project: %s", created.Str("ProjectId"))
	out.Linef(" - Status: %s", created.Str("Status"))
	out.Linef(" - Created: %s", created.Str("DateInserting"))
	out.Blank()
	out.Line("Created task JSON:")
	out.Rule(width)
	if err := printJSON(out, created); err != nil {
		return err
	}
	out.RuleOf("=", width)
	return nil
}
