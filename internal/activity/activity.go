// Package activity implements the _cloudia/activity script: calendar events
// and logged time inputs of the signed-in user, plus a weekly summary.
package activity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/tasks"
	"cloudia/internal/terminal"
	"cloudia/internal/textutil"
)

const (
	eventEntity = "CloudFrameWorkCRMEvents"
	inputEntity = "CloudFrameWorkProjectsTasksInputs"

	width     = 100
	listLimit = 100
	sumLimit  = 500
	dayLayout = "2006-01-02"
)

var help = []string{
	"  NOTE: All listings are bounded by a time range (default: last 30 days)",
	"        - Events filter by DateInserting (creation date)",
	"        - Inputs filter by DateInput (activity date)",
	"",
	"  Events (CloudFrameWorkCRMEvents):",
	"  /events                        - List my events (last 30 days by DateInserting)",
	"  /events?from=YYYY-MM-DD        - List events created from a date",
	"  /events?from=DATE&to=DATE      - List events in date range",
	"  /event?id=EVENT_KEYID          - Get detailed event information",
	"",
	"  Activity Inputs (CloudFrameWorkProjectsTasksInputs):",
	"  /inputs                        - List my activity inputs (last 30 days)",
	"  /inputs?task=TASK_KEYID        - List inputs for a specific task",
	"  /inputs?project=PROJECT_KEY    - List inputs for a specific project",
	"  /inputs?from=YYYY-MM-DD        - List inputs from a date",
	"  /inputs?from=DATE&to=DATE      - List inputs in date range",
	"  /input?id=INPUT_KEYID          - Get detailed input information",
	"",
	"  Summary (includes TimeSpent analysis):",
	"  /summary                       - Show activity summary for current week",
	"  /summary?from=DATE&to=DATE     - Show activity summary for date range",
	"",
	"Examples:",
	"  cloudia run _cloudia/activity/events",
	`  cloudia run "_cloudia/activity/events?from=2025-01-01&to=2025-01-31"`,
	"  cloudia run _cloudia/activity/inputs",
	`  cloudia run "_cloudia/activity/inputs?task=5734953457745920"`,
	`  cloudia run "_cloudia/activity/event?id=1234567890"`,
	"  cloudia run _cloudia/activity/summary",
}

func Script() *script.Script {
	return &script.Script{
		Name:       "activity",
		Privileges: tasks.Privileges,
		Denied:     tasks.Denied,
		Help:       help,
		Methods: map[string]script.Method{
			"events":  events,
			"event":   event,
			"inputs":  inputs,
			"input":   input,
			"summary": summary,
		},
	}
}

func userID(env *script.Env) string {
	if env.User == nil {
		return ""
	}
	return env.User.ID
}

// window returns from/to params, defaulting to the last 30 days.
func window(env *script.Env) (string, string) {
	now := env.Now()
	from, to := env.Params.Get("from"), env.Params.Get("to")
	if from == "" {
		from = now.AddDate(0, 0, -30).Format(dayLayout)
	}
	if to == "" {
		to = now.Format(dayLayout)
	}
	return from, to
}

// thisWeek returns Monday and Sunday of the week holding now.
func thisWeek(now time.Time) (string, string) {
	offset := (int(now.Weekday()) + 6) % 7
	monday := now.AddDate(0, 0, -offset)
	return monday.Format(dayLayout), monday.AddDate(0, 0, 6).Format(dayLayout)
}

// until drops records whose field falls on a day after to. Records without
// the field are kept.
func until(recs []record.Record, field, to string) []record.Record {
	out := recs[:0]
	for _, r := range recs {
		d := r.Str(field)
		if d == "" || textutil.Prefix(d, 10) <= to {
			out = append(out, r)
		}
	}
	return out
}

func weekday(day string) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return "-"
	}
	return t.Weekday().String()
}

// hours renders a float the short way, 2.5 or 3.
func hours(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func spentSuffix(f float64) string {
	if f > 0 {
		return fmt.Sprintf(" | TimeSpent: %.2fh", f)
	}
	return ""
}

func events(ctx context.Context, env *script.Env) error {
	out := env.Out
	u := userID(env)
	from, to := window(env)
	out.Blank()
	out.Linef("My events [%s] (DateInserting: %s to %s):", u, from, to)
	out.Rule(width)

	list, err := env.API.List(ctx, eventEntity, cfo.NewParams().
		Filter("UserEmail", u).
		Range("DateInserting", ">=", from).
		Order("-DateInserting").
		CFOLimit(listLimit))
	if err != nil {
		return err
	}
	printEvents(out, until(list, "DateInserting", to), u)
	return nil
}

var eventIcons = map[string]string{
	"meeting":  "[MTG]",
	"call":     "[CAL]",
	"task":     "[TSK]",
	"reminder": "[REM]",
	"deadline": "[DLN]",
}

func eventIcon(kind string) string {
	if i, ok := eventIcons[strings.ToLower(kind)]; ok {
		return i
	}
	return "[EVT]"
}

func printEvents(out *terminal.Printer, list []record.Record, user string) {
	if len(list) == 0 {
		out.Line("No events found")
		out.Rule(width)
		out.Line("Total: 0 events")
		return
	}

	var days []string
	byDay := map[string][]record.Record{}
	for _, e := range list {
		d := textutil.Prefix(e.Str("DateTimeInit"), 10)
		if _, ok := byDay[d]; !ok {
			days = append(days, d)
		}
		byDay[d] = append(byDay[d], e)
	}

	for _, d := range days {
		out.Blank()
		out.Linef(" %s (%s)", d, weekday(d))
		out.Line(" " + strings.Repeat("-", 50))
		for _, e := range byDay[d] {
			span := "All day"
			if start := clock(e.Str("DateTimeInit")); start != "" {
				span = start + "-" + clock(e.Str("DateTimeEnd"))
			}
			title := textutil.Cut(e.Or("Title", "Untitled"), 45, 42)
			out.Linef("   %s %s %s", span, eventIcon(e.Str("Type")), title)
			if loc := e.Str("Location"); loc != "" {
				out.Linef("            Location: %s", loc)
			}
		}
	}
	out.Blank()
	out.Rule(width)
	out.Linef("Total: %d events | User: %s", len(list), user)
}

// clock extracts HH:MM from "YYYY-MM-DD HH:MM:SS".
func clock(ts string) string {
	if len(ts) < 16 {
		return ""
	}
	return ts[11:16]
}

type field struct{ key, label string }

var eventFields = []field{
	{"KeyId", "ID"},
	{"Title", "Title"},
	{"Type", "Type"},
	{"Status", "Status"},
	{"DateTimeInit", "Start"},
	{"DateTimeEnd", "End"},
	{"Location", "Location"},
	{"UserEmail", "User"},
	{"Participants", "Participants"},
	{"ProjectId", "Project"},
	{"TaskId", "Task"},
	{"DateInserting", "Created"},
	{"DateUpdating", "Updated"},
}

var inputFields = []field{
	{"KeyId", "ID"},
	{"DateInput", "Date"},
	{"Hours", "Hours"},
	{"TimeSpent", "TimeSpent"},
	{"ProjectId", "Project"},
	{"TaskId", "Task"},
	{"UserEmail", "User"},
	{"Type", "Type"},
	{"Billable", "Billable"},
	{"DateInserting", "Created"},
	{"DateUpdating", "Updated"},
}

func printFields(out *terminal.Printer, r record.Record, fields []field) {
	for _, f := range fields {
		v, ok := r[f.key]
		if !ok || v == nil || v == "" {
			continue
		}
		s := tasks.DetailValue(v)
		if f.key == "Hours" || f.key == "TimeSpent" {
			s = fmt.Sprintf("%.2f", r.Float(f.key))
		}
		out.Linef(" %-18s: %s", f.label, s)
	}
}

func section(out *terminal.Printer, title, body string) {
	out.Blank()
	out.Linef(" %s:", title)
	out.Rule(50)
	out.Line(body)
}

// fetchOne reads a record through the display endpoint.
func fetchOne(ctx context.Context, env *script.Env, entity, method, heading, missing string) (record.Record, error) {
	id := env.Params.Get("id")
	if id == "" {
		return nil, fmt.Errorf("Missing required parameter: id. Usage: _cloudia/activity/%s?id=%s", method, strings.ToUpper(method)+"_KEYID")
	}
	env.Out.Blank()
	env.Out.Linef("%s [%s]:", heading, id)
	env.Out.RuleOf("=", width)
	r, err := env.API.Display(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%s [%s] not found", missing, id)
	}
	return r, nil
}

func event(ctx context.Context, env *script.Env) error {
	e, err := fetchOne(ctx, env, eventEntity, "event", "Event Details", "Event")
	if err != nil {
		return err
	}
	out := env.Out
	printFields(out, e, eventFields)
	if d := e.Str("Description"); d != "" {
		section(out, "Description", textutil.Description(d))
	}
	if n := e.Str("Notes"); n != "" {
		section(out, "Notes", " "+textutil.Wrap(n, 90, "\n "))
	}
	out.RuleOf("=", width)
	return nil
}

func inputs(ctx context.Context, env *script.Env) error {
	out := env.Out
	u := userID(env)
	from, to := window(env)
	task, proj := env.Params.Get("task"), env.Params.Get("project")

	info := fmt.Sprintf("(DateInput: %s to %s)", from, to)
	if task != "" {
		info += " task: " + task
	}
	if proj != "" {
		info += " project: " + proj
	}
	out.Blank()
	out.Linef("My activity inputs [%s] %s:", u, info)
	out.Rule(width)

	p := cfo.NewParams().
		Filter("UserEmail", u).
		Range("DateInput", ">=", from).
		Order("-DateInput").
		CFOLimit(listLimit)
	if task != "" {
		p.Filter("TaskId", task)
	}
	if proj != "" {
		p.Filter("ProjectId", proj)
	}
	list, err := env.API.List(ctx, inputEntity, p)
	if err != nil {
		return err
	}
	printInputs(out, until(list, "DateInput", to), u)
	return nil
}

func printInputs(out *terminal.Printer, list []record.Record, user string) {
	if len(list) == 0 {
		out.Line("No activity inputs found")
		out.Rule(width)
		out.Line("Total: 0 inputs | Hours: 0.00 | TimeSpent: 0.00")
		return
	}

	var total, spent float64
	byDay := map[string][]record.Record{}
	for _, in := range list {
		total += in.Float("Hours")
		spent += in.Float("TimeSpent")
		d := textutil.Prefix(in.Str("DateInput"), 10)
		byDay[d] = append(byDay[d], in)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	for _, d := range days {
		var dh, ds float64
		for _, in := range byDay[d] {
			dh += in.Float("Hours")
			ds += in.Float("TimeSpent")
		}
		extra := ""
		if ds > 0 {
			extra = " | TimeSpent: " + hours(ds) + "h"
		}
		out.Blank()
		out.Linef(" %s (%s) - Hours: %sh%s", d, weekday(d), hours(dh), extra)
		out.Line(" " + strings.Repeat("-", 50))
		for _, in := range byDay[d] {
			h := fmt.Sprintf("%.2fh", in.Float("Hours"))
			if s := in.Float("TimeSpent"); s > 0 {
				h += fmt.Sprintf(" (spent: %.2fh)", s)
			}
			desc := textutil.Cut(in.Str("Description"), 45, 42)
			if desc == "" {
				desc = "(no description)"
			}
			out.Linef("   [%s] %s | Project: %s", h, desc, textutil.Cut(in.Str("ProjectId"), 20, 17))
			if t := in.Str("TaskId"); t != "" {
				out.Linef("            Task: %s", t)
			}
		}
	}

	out.Blank()
	out.Rule(width)
	out.Linef("Total: %d inputs | Hours: %.2f | TimeSpent: %.2f", len(list), total, spent)
	if total > 0 && spent > 0 {
		out.Linef("TimeSpent/Hours ratio: %.1f%%", spent/total*100)
	}
	out.Linef("User: %s", user)
}

func input(ctx context.Context, env *script.Env) error {
	in, err := fetchOne(ctx, env, inputEntity, "input", "Activity Input Details", "Activity input")
	if err != nil {
		return err
	}
	out := env.Out
	printFields(out, in, inputFields)
	if d := in.Str("Description"); d != "" {
		section(out, "Description", textutil.Description(d))
	}
	out.RuleOf("=", width)
	return nil
}

// tally accumulates logged and spent hours per key.
type tally struct {
	keys  []string
	hours map[string]float64
	spent map[string]float64
}

func newTally() *tally {
	return &tally{hours: map[string]float64{}, spent: map[string]float64{}}
}

func (t *tally) add(k string, h, s float64) {
	if _, ok := t.hours[k]; !ok {
		t.keys = append(t.keys, k)
	}
	t.hours[k] += h
	t.spent[k] += s
}

// byHours returns keys ordered by logged hours, highest first.
func (t *tally) byHours() []string {
	keys := append([]string{}, t.keys...)
	sort.SliceStable(keys, func(i, j int) bool { return t.hours[keys[i]] > t.hours[keys[j]] })
	return keys
}

func summary(ctx context.Context, env *script.Env) error {
	out := env.Out
	u := userID(env)
	from, to := env.Params.Get("from"), env.Params.Get("to")
	monday, sunday := thisWeek(env.Now())
	if from == "" {
		from = monday
	}
	if to == "" {
		to = sunday
	}

	out.Blank()
	out.Linef("Activity Summary [%s]", u)
	out.Linef("Period: %s to %s (DateInput)", from, to)
	out.RuleOf("=", width)

	evs, err := env.API.List(ctx, eventEntity, cfo.NewParams().
		Filter("UserEmail", u).
		Range("DateInserting", ">=", from).
		CFOLimit(sumLimit))
	if err != nil {
		return err
	}
	evs = until(evs, "DateInserting", to)

	ins, err := env.API.List(ctx, inputEntity, cfo.NewParams().
		Filter("UserEmail", u).
		Range("DateInput", ">=", from).
		CFOLimit(sumLimit))
	if err != nil {
		return err
	}
	ins = until(ins, "DateInput", to)

	var total, spent float64
	projects, taskTally, days := newTally(), newTally(), newTally()
	for _, in := range ins {
		h, s := in.Float("Hours"), in.Float("TimeSpent")
		total += h
		spent += s
		projects.add(in.Or("ProjectId", "Unknown"), h, s)
		taskTally.add(in.Or("TaskId", "Unknown"), h, s)
		if d := textutil.Prefix(in.Str("DateInput"), 10); d != "" {
			days.add(d, h, s)
		}
	}

	out.Blank()
	out.Line(" Events (by DateInserting):")
	out.Rule(50)
	out.Linef("   Total events: %d", len(evs))

	out.Blank()
	out.Line(" Time Tracking (by DateInput):")
	out.Rule(50)
	out.Linef("   Total Hours logged: %.2f hours", total)
	out.Linef("   Total TimeSpent: %.2f hours", spent)
	if total > 0 && spent > 0 {
		out.Linef("   TimeSpent/Hours ratio: %.1f%%", spent/total*100)
	}
	out.Linef("   Number of entries: %d", len(ins))

	if len(days.keys) > 0 {
		out.Blank()
		out.Line(" Hours / TimeSpent by Day:")
		out.Rule(50)
		keys := append([]string{}, days.keys...)
		sort.Strings(keys)
		for _, d := range keys {
			out.Linef("   %s (%s): %.2fh%s", d, weekday(d), days.hours[d], spentSuffix(days.spent[d]))
		}
	}
	if len(projects.keys) > 0 {
		printTop(out, " Hours / TimeSpent by Project (top 10):", projects)
	}
	if n := len(taskTally.keys); n > 0 && n <= 20 {
		printTop(out, " Hours / TimeSpent by Task (top 10):", taskTally)
	}
	out.RuleOf("=", width)
	return nil
}

func printTop(out *terminal.Printer, title string, t *tally) {
	out.Blank()
	out.Line(title)
	out.Rule(50)
	for i, k := range t.byHours() {
		if i == 10 {
			break
		}
		out.Linef("   %-25s: %.2fh%s", textutil.Cut(k, 25, 22), t.hours[k], spentSuffix(t.spent[k]))
	}
}
