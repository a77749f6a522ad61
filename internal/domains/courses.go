package domains

import (
	"context"
	"fmt"
	"path/filepath"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/sync"
)

const (
	coursesDir     = "Courses"
	courseEntity   = "CloudFrameWorkAcademyCourses"
	contentEntity  = "CloudFrameWorkAcademyContents"
	groupsEntity   = "CloudFrameWorkAcademyGroups"
	groupsFile     = "groups.json"
	maxGroupsFetch = 500
)

// Courses backs up academy courses with their contents. Updates run a
// three-way sync of the contents instead of a blind upsert.
func Courses() *script.Script {
	return &script.Script{
		Name:       "courses",
		Privileges: devPrivileges,
		Denied:     devDenied,
		Help: helpLines([][2]string{
			{"/backup-from-remote", "Backup all Courses from remote platform"},
			{"/backup-from-remote?id=KEYID", "Backup specific Course from remote platform"},
			{"/insert-from-backup?id=KEYID", "Insert new Course in remote platform from local backup"},
			{"/update-from-backup?id=KEYID", "Update existing Course in remote platform from local backup"},
			{"/list-remote", "List all Courses in remote platform"},
			{"/list-local", "List all Courses in local backup"},
			{"/backup-groups", "Backup Course Groups from remote platform"},
		}, []string{
			`"_cloudia/courses/backup-from-remote?id=5077124951572480"`,
			"_cloudia/courses/list-remote",
			"_cloudia/courses/backup-groups",
		}),
		Methods: map[string]script.Method{
			"list-remote":        coursesListRemote,
			"list-local":         coursesListLocal,
			"backup-groups":      coursesBackupGroups,
			"backup-from-remote": coursesBackup,
			"insert-from-backup": coursesInsert,
			"update-from-backup": coursesUpdate,
		},
	}
}

// groupNames maps group KeyId to GroupName.
type groupNames map[string]string

func newGroupNames(groups []record.Record) groupNames {
	g := groupNames{}
	for _, r := range groups {
		g[r.Str("KeyId")] = r.Str("GroupName")
	}
	return g
}

func (g groupNames) label(course record.Record) string {
	id := course.Str("GroupId")
	if id == "" {
		return "N/A"
	}
	name, ok := g[id]
	if !ok {
		return "not-found"
	}
	return name
}

func courseLine(g groupNames, c record.Record, key string) string {
	active := "Inactive"
	if c.Bool("Active") {
		active = "Active"
	}
	return fmt.Sprintf(" [%s] %s - %s [%s]", g.label(c), key, c.Or("CourseTitle", "N/A"), active)
}

func coursesListRemote(ctx context.Context, env *script.Env) error {
	out := env.Out
	groups, _ := env.API.List(ctx, groupsEntity, cfo.NewParams().CFOLimit(maxGroupsFetch))
	names := newGroupNames(groups)

	out.Linef("Listing Courses in remote platform [%s]:", env.Platform)
	out.Rule(60)
	courses, err := env.API.List(ctx, courseEntity, cfo.NewParams().Fields("KeyId,CourseTitle,GroupId,Active").Order("CourseTitle").Limit(maxList))
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		out.Line("No Courses found in remote platform")
		return nil
	}
	for _, c := range courses {
		out.Line(courseLine(names, c, c.Or("KeyId", "N/A")))
	}
	out.Rule(60)
	out.Linef("Total: %d Courses", len(courses))
	return nil
}

func coursesListLocal(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing Courses in local backup [%s]:", env.Platform)
	out.Rule(60)
	if !env.Store.Exists(coursesDir) {
		out.Linef("Backup directory not found: %s", env.Store.RelDir(coursesDir))
		return nil
	}
	names := newGroupNames(record.List(backup.Read(env.Store.File(coursesDir, groupsFile))[groupsEntity]))

	files, err := env.Store.Files(coursesDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		out.Line("No Course backup files found")
		return nil
	}
	count := 0
	for _, f := range files {
		if filepath.Base(f) == groupsFile {
			continue
		}
		count++
		doc := backup.Read(f)
		c := record.From(doc[courseEntity])
		if c == nil {
			c = record.Record{}
		}
		out.Linef("%s: %d contents", courseLine(names, c, c.Or("KeyId", baseName(f))), len(record.List(doc[contentEntity])))
	}
	out.Rule(60)
	out.Linef("Total: %d Courses", count)
	return nil
}

func coursesBackupGroups(ctx context.Context, env *script.Env) error {
	dir, err := env.Store.Dir(coursesDir)
	if err != nil {
		return err
	}
	env.Out.Linef(" - Backup directory: %s", env.Store.RelDir(coursesDir))
	return saveGroups(ctx, env, dir)
}

func saveGroups(ctx context.Context, env *script.Env, dir string) error {
	out := env.Out
	out.Line(" - Fetching Course Groups...")
	groups, err := env.API.List(ctx, groupsEntity, cfo.NewParams().CFOLimit(maxGroupsFetch))
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		out.Line(" # No Course Groups found in remote platform")
		return nil
	}
	record.SortBy(groups, "KeyId")
	res, err := env.Store.Save(filepath.Join(dir, groupsFile), map[string]any{groupsEntity: groups})
	if err != nil {
		return fmt.Errorf("Failed to write %s", groupsFile)
	}
	if res == backup.Unchanged {
		out.Linef("   = Unchanged: %s (%d groups)", groupsFile, len(groups))
	} else {
		out.Linef("   + Saved: %s (%d groups)", groupsFile, len(groups))
	}
	return nil
}

func courseDocument(course record.Record, contents []record.Record) map[string]any {
	sorted := append([]record.Record{}, contents...)
	record.SortBy(sorted, "KeyId")
	return map[string]any{courseEntity: course, contentEntity: sorted}
}

func coursesBackup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir(coursesDir)
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir(coursesDir))
	if err := saveGroups(ctx, env, dir); err != nil {
		return err
	}

	var courses, contents []record.Record
	if id := env.Params.Get("id"); id != "" {
		out.Linef(" - Fetching Course: %s", id)
		c, err := env.API.Display(ctx, courseEntity, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("Course [%s] not found in remote platform", id)
		}
		courses = []record.Record{c}
		out.Linef(" - Fetching contents for Course... [max %d]", maxFetch)
		if contents, err = env.API.List(ctx, contentEntity, cfo.NewParams().Filter("CourseId", id).CFOLimit(maxFetch)); err != nil {
			return err
		}
	} else {
		out.Linef(" - Fetching all Courses... [max %d]", maxFetch)
		if courses, err = env.API.List(ctx, courseEntity, cfo.NewParams().CFOLimit(maxFetch)); err != nil {
			return err
		}
		out.Linef(" - Fetching all Contents... [max %d]", maxFetch)
		if contents, err = env.API.List(ctx, contentEntity, cfo.NewParams().CFOLimit(maxFetch)); err != nil {
			return err
		}
	}
	out.Linef(" - Courses/Contents to backup: %d/%d", len(courses), len(contents))

	byCourse := record.GroupBy(contents, "CourseId")
	jobs := make([]saveJob, len(courses))
	for i, c := range courses {
		key := c.Str("KeyId")
		if key == "" {
			jobs[i] = saveJob{Skip: true}
			continue
		}
		jobs[i] = saveJob{Key: key, File: backup.DigitsFilename(key), Data: courseDocument(c, byCourse[key])}
	}

	saved, unchanged := 0, 0
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		title := courses[i].Or("CourseTitle", "N/A")
		switch {
		case j.Skip:
			out.Line("   # Skipping Course without KeyId")
		case res.Err != nil:
			return fmt.Errorf("Failed to write Course [%s] to file", j.Key)
		case res.Value == backup.Unchanged:
			unchanged++
			out.Linef("   = Unchanged: %s - %s", j.File, title)
		default:
			saved++
			out.Linef("   + Saved: %s - %s (%d contents)", j.File, title, len(byCourse[j.Key]))
		}
	}
	out.Rule(50)
	out.Linef(" - Total Courses/Contents: %d/%d (saved: %d, unchanged: %d)", len(courses), len(contents), saved, unchanged)
	return nil
}

func coursesLoad(env *script.Env, method, verb string) (string, record.Record, []record.Record, error) {
	id := env.Params.Get("id")
	if id == "" {
		return "", nil, nil, missingID("courses", method, "COURSE_KEYID")
	}
	env.Out.Linef(" - Course to %s: %s", verb, id)
	doc, err := loadBackup(env, coursesDir, backup.DigitsFilename(id))
	if err != nil {
		return "", nil, nil, err
	}
	env.Out.Line(" - Course data loaded successfully")
	course := record.From(doc[courseEntity])
	if course == nil || !record.LooseEqual(course["KeyId"], id) {
		return "", nil, nil, fmt.Errorf("KeyId mismatch: file contains '%s' but expected '%s'", course.Str("KeyId"), id)
	}
	return id, course, record.List(doc[contentEntity]), nil
}

func contentTitle(c record.Record, def string) string {
	return c.Or("ContentTitle", def)
}

func coursesInsert(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, course, contents, err := coursesLoad(env, "insert-from-backup", "insert")
	if err != nil {
		return err
	}
	if remote, err := env.API.Get(ctx, courseEntity, id); err != nil {
		return err
	} else if remote != nil {
		return fmt.Errorf("Course [%s] already exists in remote platform. Use update-from-backup instead.", id)
	}

	out.Line(" - Inserting Course in remote platform...")
	created, err := env.API.Insert(ctx, courseEntity, course)
	if err != nil {
		return err
	}
	out.Linef(" + Course record inserted (KeyId: %s)", created.Or("KeyId", course.Str("KeyId")))

	if len(contents) > 0 {
		out.Linef(" - Inserting %d contents...", len(contents))
		for _, c := range contents {
			key := c.Str("KeyId")
			if err := upsert(ctx, env.API, contentEntity, key, c); err != nil {
				title := contentTitle(c, key)
				if title == "" {
					title = "unknown"
				}
				out.Linef("   # Warning: Failed to insert content [%s]: %s", title, cfo.Message(err))
				return err
			}
		}
		out.Line(" + Contents inserted")
	}

	out.Rule(50)
	out.Linef(" + Course [%s] inserted successfully in remote platform", id)
	return coursesBackup(ctx, env.With("id", id))
}

func coursesUpdate(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, local, localContents, err := coursesLoad(env, "update-from-backup", "update")
	if err != nil {
		return err
	}
	out.Linef(" - Local course loaded with %d contents", len(localContents))

	out.Line(" - Fetching remote Course for comparison...")
	remote, err := env.API.Display(ctx, courseEntity, id)
	if err != nil {
		return err
	}
	remoteContents, err := env.API.List(ctx, contentEntity, cfo.NewParams().Filter("CourseId", id).CFOLimit(maxFetch))
	if err != nil {
		return err
	}
	out.Linef(" - Remote course found with %d contents", len(remoteContents))

	if remote != nil && record.Equal(courseDocument(local, localContents), courseDocument(remote, remoteContents)) {
		out.Linef(" = Course [%s] is unchanged (local backup equals remote)", id)
		return nil
	}

	courseUpdated := false
	switch {
	case remote == nil:
		out.Line(" - Remote course not found, inserting...")
		if _, err := env.API.Insert(ctx, courseEntity, local); err != nil {
			return fmt.Errorf("Failed to insert Course: %s", cfo.Message(err))
		}
		out.Line(" + Course record inserted")
		courseUpdated = true
	case record.Equal(local, remote):
		out.Line(" - Course data is identical, skipping update")
	default:
		out.Line(" - Course data differs, updating...")
		if _, err := env.API.Update(ctx, courseEntity, id, local); err != nil {
			return fmt.Errorf("Failed to update Course: %s", cfo.Message(err))
		}
		out.Line(" + Course record updated")
		courseUpdated = true
	}

	localKey := sync.KeyOr("KeyId", "ContentTitle")
	for _, c := range localContents {
		if localKey(c) == "" {
			out.Line("   # Warning: Content without KeyId or ContentTitle, skipping")
		}
	}

	out.Line(" - Syncing contents...")
	var same, updated, inserted, deleted int
	for _, ch := range plan("course "+id+" contents", localContents, remoteContents, sync.Options{LocalKey: localKey}) {
		switch ch.Op {
		case sync.Delete:
			out.Linef("   - Deleting: [%s] %s", ch.Key, contentTitle(ch.Remote, ch.Key))
			if err := env.API.Delete(ctx, contentEntity, ch.Key); err != nil {
				out.Linef("     # Warning: Failed to delete: %s", cfo.Message(err))
				return err
			}
			deleted++
		case sync.Update:
			out.Linef("   - Updating: [%s] %s", ch.Key, contentTitle(ch.Local, ch.Key))
			if _, err := env.API.Update(ctx, contentEntity, ch.Key, ch.Local); err != nil {
				out.Linef("     # Warning: Failed to update: %s", cfo.Message(err))
				return err
			}
			updated++
		case sync.Same:
			out.Linef("   - Same: [%s] %s", ch.Key, contentTitle(ch.Remote, ch.Key))
			same++
		case sync.Create:
			key := ch.Local.Str("KeyId")
			op := "insert"
			if key != "" {
				op = "update"
				out.Linef("   - Updating (new): [%s] %s", key, contentTitle(ch.Local, ch.Key))
			} else {
				out.Linef("   - Inserting: %s", contentTitle(ch.Local, ch.Key))
			}
			if err := upsert(ctx, env.API, contentEntity, key, ch.Local); err != nil {
				out.Linef("     # Warning: Failed to %s: %s", op, cfo.Message(err))
				return err
			}
			inserted++
		}
	}

	out.Rule(50)
	out.Linef(" + Course [%s] sync complete:", id)
	if courseUpdated {
		out.Line("   - Course: updated")
	} else {
		out.Line("   - Course: unchanged")
	}
	out.Linef("   - Contents same: %d", same)
	out.Linef("   - Contents updated: %d", updated)
	out.Linef("   - Contents inserted: %d", inserted)
	out.Linef("   - Contents deleted: %d", deleted)

	if courseUpdated || updated+inserted+deleted > 0 {
		out.Line(" - Backing up latest version from remote...")
		return coursesBackup(ctx, env.With("id", id))
	}
	return nil
}
