package domains

import (
	"context"
	"fmt"
	"strings"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/sync"
	"cloudia/internal/tasks"
	"cloudia/internal/terminal"
	"cloudia/internal/textutil"
)

const (
	projectsDir      = "Projects"
	projectEntity    = "CloudFrameWorkProjectsEntries"
	milestoneEntity  = "CloudFrameWorkProjectsMilestones"
	maxMilestones    = 5000
	projectsRule     = 80
	milestoneRule    = 130
	milestoneRowFmt  = "   %-12s %-30s %-25s %-12s %-12s %s"
	maxShownInvalids = 5
)

// Projects backs up project entries with their milestones. Tasks are only
// referenced; the tasks script owns them.
func Projects() *script.Script {
	return &script.Script{
		Name:       "projects",
		Privileges: tasks.Privileges,
		Denied:     tasks.Denied,
		Help: helpLines([][2]string{
			{"/my-tasks", "List my open tasks across all projects"},
			{"/backup-from-remote", "Backup all Projects from remote platform"},
			{"/backup-from-remote?id=KEY", "Backup specific Project from remote platform"},
			{"/insert-from-backup?id=KEY", "Insert new Project in remote platform from local backup"},
			{"/update-from-backup?id=KEY", "Update existing Project (only changed milestones)"},
			{"/list-remote", "List all Projects in remote platform"},
			{"/list-local", "List all Projects in local backup"},
		}, []string{
			"_cloudia/projects/my-tasks",
			`"_cloudia/projects/backup-from-remote?id=cloud-platform"`,
			`"_cloudia/projects/update-from-backup?id=cloud-platform"`,
		},
			"Notes:",
			"  - The ?id= parameter is the Project KeyName (e.g., cloud-platform)",
			"  - update-from-backup only updates milestones that differ from remote",
			"  - Identical records are skipped to minimize API calls",
			"  - TASKS are managed via _cloudia/tasks script (not this script)",
			"",
			"Task management (use _cloudia/tasks):",
			"  _cloudia/tasks/project?id=KEY  - List tasks for a project",
			"  _cloudia/tasks/insert          - Create a new task",
			"  _cloudia/tasks/get?id=ID       - Show a task with all its fields",
			"  _cloudia/tasks/update?id=ID    - Update a task from JSON",
		),
		Methods: map[string]script.Method{
			"my-tasks":           tasks.List,
			"list-remote":        projectsListRemote,
			"list-local":         projectsListLocal,
			"backup-from-remote": projectsBackup,
			"insert-from-backup": projectsInsert,
			"update-from-backup": projectsUpdate,
		},
	}
}

func projectLine(p record.Record, key string) string {
	typ := ""
	if t := p.Str("Type"); t != "" {
		typ = " [" + t + "]"
	}
	open := "Closed"
	if p.Bool("Open") {
		open = "Open"
	}
	return fmt.Sprintf(" %s%s - %s [%s] (%s)", key, typ, p.Or("Title", "N/A"), p.Or("Status", "N/A"), open)
}

func projectsListRemote(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing Projects in remote platform [%s]:", env.Platform)
	out.Rule(projectsRule)
	projects, err := env.API.List(ctx, projectEntity, cfo.NewParams().Fields("KeyName,Title,Type,Status,Open").Order("KeyName").Limit(maxList))
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		out.Line("No Projects found in remote platform")
		return nil
	}
	for _, p := range projects {
		out.Line(projectLine(p, p.Str("KeyName")))
	}
	out.Rule(projectsRule)
	out.Linef("Total: %d Projects", len(projects))
	return nil
}

func projectsListLocal(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing Projects in local backup [%s]:", env.Platform)
	out.Rule(projectsRule)
	if !env.Store.Exists(projectsDir) {
		out.Linef("Backup directory not found: %s", env.Store.RelDir(projectsDir))
		return nil
	}
	files, err := env.Store.Files(projectsDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		out.Line("No Project backup files found")
		return nil
	}
	for _, f := range files {
		doc := backup.Read(f)
		p := record.From(doc[projectEntity])
		if p == nil {
			p = record.Record{}
		}
		n := len(record.List(doc[milestoneEntity]))
		out.Linef("%s - %d milestones", projectLine(p, p.Or("KeyName", baseName(f))), n)
	}
	out.Rule(projectsRule)
	out.Linef("Total: %d Projects", len(files))
	return nil
}

func tasksHelp(key string) string {
	return "Use _cloudia/tasks/project?id=" + key + " to list the tasks associated, " +
		"_cloudia/tasks/milestone?id=milestone-id to list the tasks associated to a milestone and " +
		"_cloudia/tasks/show?id=XXXXX to show a task with its CHECKs and relations and " +
		"_cloudia/tasks/get?id=XXXXX to download a copy of the task with its CHECKs in order to update with " +
		"_cloudia/tasks/update?id=XXXXX. Insert new tasks with _cloudia/tasks/insert?title=xxx&project=xxx&milestone=xxx"
}

func projectDocument(p record.Record, milestones []record.Record, help string) map[string]any {
	sorted := append([]record.Record{}, milestones...)
	record.SortBy(sorted, "KeyId")
	return map[string]any{
		projectEntity:                 p,
		milestoneEntity:               sorted,
		"CloudFrameWorkProjectsTasks": help,
	}
}

// milestoneRow is one line of the milestone report.
type milestoneRow struct {
	ID, Title, Player, Status, Deadline, Sync string
	Closed                                    bool
}

// isClosedMilestone trusts is_closed whenever it is set, false included.
func isClosedMilestone(m record.Record) bool {
	if v, ok := m["is_closed"]; ok && v != nil {
		return record.Truthy(v)
	}
	switch m.Or("status", m.Str("Status")) {
	case "closed", "canceled":
		return true
	}
	open, ok := m["Open"].(bool)
	return ok && !open
}

func newMilestoneRow(m record.Record, id, state string) milestoneRow {
	if id == "" {
		id = m.Or("KeyId", "N/A")
	}
	return milestoneRow{
		ID:       id,
		Title:    m.Or("Title", "Untitled"),
		Player:   m.Or("PlayerId", "-"),
		Status:   m.Or("Status", "-"),
		Deadline: m.Or("DateDeadline", "-"),
		Sync:     state,
		Closed:   isClosedMilestone(m),
	}
}

func printMilestoneRow(out *terminal.Printer, r milestoneRow) {
	deadline := r.Deadline
	if deadline != "-" {
		deadline = textutil.Prefix(deadline, 10)
	}
	out.Linef(milestoneRowFmt, r.ID, textutil.Cut(r.Title, 27, 24), textutil.Cut(r.Player, 22, 19), r.Status, deadline, r.Sync)
}

func milestoneReport(out *terminal.Printer, rows []milestoneRow, created, updated, unchanged int) {
	var open, closed []milestoneRow
	for _, r := range rows {
		if r.Closed {
			closed = append(closed, r)
		} else {
			open = append(open, r)
		}
	}
	rule := "   " + strings.Repeat("-", milestoneRule)

	out.Blank()
	out.Linef("   Milestones OPEN (%d):", len(open))
	out.Line(rule)
	out.Linef(milestoneRowFmt, "KeyId", "Title", "Assignee", "Status", "Deadline", "Sync")
	out.Line(rule)
	for _, r := range open {
		printMilestoneRow(out, r)
	}
	out.Blank()
	out.Linef("   Milestones CLOSED (%d):", len(closed))
	out.Line(rule)
	for _, r := range closed {
		printMilestoneRow(out, r)
	}
	out.Line(rule)
	out.Linef(" + Milestones: %d created, %d updated, %d unchanged", created, updated, unchanged)
}

func backupReport(out *terminal.Printer, milestones []record.Record) {
	rows := make([]milestoneRow, 0, len(milestones))
	for _, m := range milestones {
		rows = append(rows, newMilestoneRow(m, "", "-"))
	}
	milestoneReport(out, rows, 0, 0, len(milestones))
}

func projectsBackup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir(projectsDir)
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir(projectsDir))

	var projects, milestones []record.Record
	if id := env.Params.Get("id"); id != "" {
		out.Linef(" - Fetching Project: %s", id)
		p, err := env.API.Display(ctx, projectEntity, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("Project [%s] not found in remote platform", id)
		}
		projects = []record.Record{p}
		out.Linef(" - Fetching milestones for Project... [max %d]", maxFetch)
		if milestones, err = env.API.List(ctx, milestoneEntity, cfo.NewParams().Filter("ProjectId", id).CFOLimit(maxFetch)); err != nil {
			return err
		}
		if len(milestones) > 1 {
			var bad []string
			for _, m := range milestones {
				if m.Str("ProjectId") != id {
					bad = append(bad, m.Str("KeyId"))
				}
			}
			if len(bad) > 0 {
				return fmt.Errorf("Found %d milestones with incorrect ProjectId (expected '%s'): %s", len(bad), id, strings.Join(bad, ", "))
			}
		}
	} else {
		out.Linef(" - Fetching all Projects... [max %d]", maxFetch)
		if projects, err = env.API.List(ctx, projectEntity, cfo.NewParams().CFOLimit(maxFetch)); err != nil {
			return err
		}
		out.Linef(" - Fetching all Milestones... [max %d]", maxMilestones)
		if milestones, err = env.API.List(ctx, milestoneEntity, cfo.NewParams().CFOLimit(maxMilestones)); err != nil {
			return err
		}
	}
	out.Linef(" - Projects/Milestones to backup: %d/%d", len(projects), len(milestones))
	out.Line(" - Note: Tasks are managed via _cloudia/tasks script")

	byProject := record.GroupBy(milestones, "ProjectId")
	jobs := make([]saveJob, len(projects))
	for i, p := range projects {
		key := p.Str("KeyName")
		if key == "" {
			jobs[i] = saveJob{Skip: true}
			continue
		}
		jobs[i] = saveJob{Key: key, File: backup.SafeFilename(key), Data: projectDocument(p, byProject[key], tasksHelp(key))}
	}

	saved, unchanged := 0, 0
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		if j.Skip {
			out.Line("   # Skipping Project without KeyName")
			continue
		}
		kids := record.List(j.Data.(map[string]any)[milestoneEntity])
		backupReport(out, kids)
		out.Blank()
		out.Linef("   Tasks: Use _cloudia/tasks/project?id=%s to list tasks", j.Key)
		switch {
		case res.Err != nil:
			return fmt.Errorf("Failed to write Project [%s] to file", j.Key)
		case res.Value == backup.Unchanged:
			unchanged++
			out.Linef("   = Unchanged: %s", j.File)
		default:
			saved++
			out.Linef("   + Saved: %s (%d milestones)", j.File, len(kids))
		}
	}
	out.Rule(50)
	out.Linef(" - Total Projects/Milestones: %d/%d (saved: %d, unchanged: %d)", len(projects), len(milestones), saved, unchanged)
	out.Line(" - Note: Tasks are managed via _cloudia/tasks script")
	return nil
}

func projectsLoad(env *script.Env, method, verb string) (string, record.Record, record.Record, error) {
	id := env.Params.Get("id")
	if id == "" {
		return "", nil, nil, missingID("projects", method, "project-keyname")
	}
	env.Out.Linef(" - Project to %s: %s", verb, id)
	doc, err := loadBackup(env, projectsDir, backup.SafeFilename(id))
	if err != nil {
		return "", nil, nil, err
	}
	env.Out.Line(" - Project data loaded successfully")
	p := record.From(doc[projectEntity])
	if got := p.Str("KeyName"); p == nil || got != id {
		return "", nil, nil, fmt.Errorf("KeyName mismatch: file contains '%s' but expected '%s'", got, id)
	}
	return id, doc, p, nil
}

func milestonesDiffer(local, remote record.Record) bool {
	return !sync.EqualIgnoring(local, remote, "DateUpdating", "DateInserting")
}

func projectsUpdate(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, doc, project, err := projectsLoad(env, "update-from-backup", "update")
	if err != nil {
		return err
	}
	milestones := record.List(doc[milestoneEntity])

	out.Line(" - Fetching remote data to compare...")
	remote, err := env.API.Display(ctx, projectEntity, id)
	if err != nil {
		return err
	}
	remoteMilestones, err := env.API.List(ctx, milestoneEntity, cfo.NewParams().Filter("ProjectId", id).CFOLimit(maxFetch))
	if err != nil {
		return err
	}
	if remote == nil {
		out.Line(" - Remote project not found, proceeding with update...")
	} else {
		if record.Equal(doc, projectDocument(remote, remoteMilestones, doc.Str("CloudFrameWorkProjectsTasks"))) {
			out.Linef(" = Project [%s] is unchanged (local backup equals remote)", id)
			if len(milestones) > 0 {
				backupReport(out, milestones)
			}
			out.Blank()
			out.Linef(" - Tasks: Use _cloudia/tasks/project?id=%s to manage tasks", id)
			out.Rule(50)
			out.Linef(" = No updates needed for project [%s]", id)
			return nil
		}
		out.Line(" - Changes detected, proceeding with update...")
	}

	out.Line(" - Updating Project in remote platform...")
	if _, err := env.API.Update(ctx, projectEntity, id, project); err != nil {
		return err
	}
	out.Line(" + Project record updated")

	if len(milestones) > 0 {
		if err := syncMilestones(ctx, env, id, milestones, remoteMilestones); err != nil {
			return err
		}
	}

	out.Blank()
	out.Linef(" - Tasks: Use _cloudia/tasks/project?id=%s to manage tasks", id)
	out.Rule(50)
	out.Linef(" + Project [%s] sync completed", id)
	return projectsBackup(ctx, env.With("id", id))
}

func syncMilestones(ctx context.Context, env *script.Env, id string, local, remote []record.Record) error {
	out := env.Out
	out.Linef(" - Syncing %d milestones...", len(local))

	var invalid []string
	for _, m := range remote {
		if m.Str("ProjectId") != id {
			invalid = append(invalid, fmt.Sprintf("[%s] %s (ProjectId: %s)", m.Str("KeyId"), m.Str("Title"), m.Str("ProjectId")))
		}
	}
	if len(invalid) > 0 {
		out.Blank()
		out.Line("   ❌ CRITICAL ERROR: API filter_ProjectId is not working correctly!")
		out.Linef("   The API returned %d milestones from OTHER projects:", len(invalid))
		for _, inv := range invalid[:min(len(invalid), maxShownInvalids)] {
			out.Linef("      - %s", inv)
		}
		if len(invalid) > maxShownInvalids {
			out.Linef("      ... and %d more", len(invalid)-maxShownInvalids)
		}
		out.Blank()
		return fmt.Errorf("API BUG: filter_ProjectId=%s returned milestones from other projects. Aborting to prevent data loss.", id)
	}

	changes := plan("project "+id+" milestones", local, remote, sync.Options{NeedsUpdate: milestonesDiffer})
	byKey := map[string]sync.Change{}
	var deletes []sync.Change
	for _, c := range changes {
		if c.Op == sync.Delete {
			deletes = append(deletes, c)
			continue
		}
		byKey[c.Key] = c
	}

	if len(deletes) > 0 {
		out.Linef("   ⚠️  %d milestones will be DELETED from remote:", len(deletes))
		for _, c := range deletes {
			out.Linef("      - [%s] %s", c.Key, c.Remote.Str("Title"))
		}
		if env.Params.Get("confirm") != "1" {
			out.Blank()
			out.Line("   ❌ DELETION SKIPPED: Add 'confirm=1' parameter to confirm deletion")
			out.Linef("      Example: _cloudia/projects/update-from-backup?id=%s&confirm=1", id)
		} else {
			out.Line("   ✓ Deletion confirmed, proceeding...")
			for _, c := range deletes {
				out.Linef("   - Deleting remote milestone: %s", c.Remote.Str("Title"))
				if err := env.API.Delete(ctx, milestoneEntity, c.Key); err != nil {
					out.Linef("     # Warning: Failed to delete milestone [%s]: %s", c.Key, cfo.Message(err))
				}
			}
		}
	}

	var rows []milestoneRow
	created, updated, unchanged := 0, 0, 0
	for _, m := range local {
		key := strings.TrimSpace(m.Str("KeyId"))
		c, known := byKey[key]
		switch {
		case key == "" || !known || c.Op == sync.Create:
			res, err := env.API.Insert(ctx, milestoneEntity, m)
			rowID := key
			if rowID == "" {
				rowID = "NEW"
			}
			if err != nil {
				rows = append(rows, newMilestoneRow(m, rowID, "ERROR"))
				continue
			}
			created++
			if key == "" {
				rowID = res.Or("KeyId", "NEW")
			}
			rows = append(rows, newMilestoneRow(m, rowID, "CREATED"))
		case c.Op == sync.Update:
			if _, err := env.API.Update(ctx, milestoneEntity, key, m); err != nil {
				rows = append(rows, newMilestoneRow(m, key, "ERROR"))
				continue
			}
			updated++
			rows = append(rows, newMilestoneRow(m, key, "UPDATED"))
		default:
			unchanged++
			rows = append(rows, newMilestoneRow(m, key, "-"))
		}
	}
	milestoneReport(out, rows, created, updated, unchanged)
	return nil
}

func projectsInsert(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, doc, project, err := projectsLoad(env, "insert-from-backup", "insert")
	if err != nil {
		return err
	}
	if remote, err := env.API.Get(ctx, projectEntity, id); err != nil {
		return err
	} else if remote != nil {
		return fmt.Errorf("Project [%s] already exists in remote platform. Use update-from-backup instead.", id)
	}

	out.Line(" - Inserting Project in remote platform...")
	created, err := env.API.Insert(ctx, projectEntity, project)
	if err != nil {
		return err
	}
	key := created.Or("KeyName", project.Str("KeyName"))
	out.Linef(" + Project record inserted (KeyName: %s)", key)

	if milestones := record.List(doc[milestoneEntity]); len(milestones) > 0 {
		out.Linef(" - Inserting %d milestones...", len(milestones))
		for _, m := range milestones {
			m = m.Without("KeyId")
			m["ProjectId"] = key
			if _, err := env.API.Insert(ctx, milestoneEntity, m); err != nil {
				out.Linef("   # Warning: Failed to insert milestone [%s]: %s", m.Or("Title", "unknown"), cfo.Message(err))
			}
		}
		out.Line(" + Milestones inserted")
	}

	out.Blank()
	out.Line(" - Tasks: Use _cloudia/tasks/insert to create tasks for this project")
	out.Rule(50)
	out.Linef(" + Project [%s] inserted successfully in remote platform", id)
	return projectsBackup(ctx, env.With("id", id))
}
