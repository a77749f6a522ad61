package domains

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloudia/internal/auth"
	"cloudia/internal/backup"
	"cloudia/internal/cfo/cfotest"
	"cloudia/internal/logger"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/sync"
	"cloudia/internal/terminal"
)

type testEnv struct {
	*script.Env
	srv *cfotest.Server
	buf *bytes.Buffer
}

func newEnv(t *testing.T, s *script.Script, params script.Params) *testEnv {
	t.Helper()
	srv := cfotest.New(t)
	var buf bytes.Buffer
	if params == nil {
		params = script.Params{}
	}
	env := &script.Env{
		Out:      terminal.New(&buf),
		API:      srv.Client("/scripts/_cloudia/" + s.Name),
		Store:    backup.New(t.TempDir(), "acme"),
		User:     &auth.User{ID: "dev@acme.com", Token: "tok"},
		Platform: "acme",
		Params:   params,
		Workers:  2,
		Now:      func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) },
		Script:   s,
	}
	return &testEnv{Env: env, srv: srv, buf: &buf}
}

// call runs method with params replacing the current ones.
func (e *testEnv) call(t *testing.T, method string, params script.Params) error {
	t.Helper()
	e.buf.Reset()
	if params == nil {
		params = script.Params{}
	}
	e.Params = params
	return e.Env.Call(context.Background(), method)
}

func (e *testEnv) out() string { return e.buf.String() }

// requireNoWrites fails when the platform saw any POST, PUT or DELETE.
func (e *testEnv) requireNoWrites(t *testing.T) {
	t.Helper()
	for _, m := range []string{"POST", "PUT", "DELETE"} {
		if n := len(e.srv.Requests(m)); n != 0 {
			t.Errorf("Expected no %s after a failed fetch, got %d", m, n)
		}
	}
}

// save writes a backup document the way a user edit would leave it.
func (e *testEnv) save(t *testing.T, dir, file string, doc any) {
	t.Helper()
	d, err := e.Store.Dir(dir)
	require.NoError(t, err)
	_, err = e.Store.Save(filepath.Join(d, file), doc)
	require.NoError(t, err)
}

func (e *testEnv) load(t *testing.T, dir, file string) record.Record {
	t.Helper()
	doc, err := e.Store.Load(e.Store.File(dir, file))
	require.NoError(t, err)
	return doc
}

var (
	apiEntity = APIs.Entity
	epEntity  = APIs.Children.Entity
)

func seedAPIs(srv *cfotest.Server) {
	srv.Seed(apiEntity,
		record.Record{"KeyName": "/erp/projects", "Title": "Projects", "Status": "active", "Active": true},
		record.Record{"Title": "No key"},
	)
	srv.Seed(epEntity,
		record.Record{"KeyId": "2", "KeyName": "POST /add", "API": "/erp/projects", "EndPoint": "add"},
		record.Record{"KeyId": "1", "KeyName": "GET /list", "API": "/erp/projects", "EndPoint": "list"},
	)
}

func TestDomainBackup(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	out := e.out()
	for _, want := range []string{
		" - Backup directory: /buckets/backups/APIs/acme",
		" - Fetching all APIs... [max 2000]",
		" - Fetching all Endpoints... [max 2000]",
		" - APIs/Endpoints to backup: 2/2",
		"   + Saved: _erp_projects.json (2 endpoints)",
		"   # Skipping API without KeyName",
		" - Total APIs/Endpoints: 2/2 (saved: 1, unchanged: 0)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}

	doc := e.load(t, "APIs", "_erp_projects.json")
	kids := record.List(doc[epEntity])
	require.Len(t, kids, 2)
	if kids[0].Str("KeyName") != "GET /list" {
		t.Errorf("Expected endpoints sorted by KeyName, got %s first", kids[0].Str("KeyName"))
	}

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	require.Contains(t, e.out(), "   = Unchanged: _erp_projects.json")
	require.Contains(t, e.out(), " - Total APIs/Endpoints: 2/2 (saved: 0, unchanged: 1)")
}

func TestDomainBackupSingle(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)

	require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "erp/projects"}))
	require.Contains(t, e.out(), " - Fetching API: /erp/projects")
	require.Contains(t, e.out(), " - Fetching endpoints for API... [max 2000]")
	require.Contains(t, e.out(), " - APIs/Endpoints to backup: 1/2")

	err := e.call(t, "backup-from-remote", script.Params{"id": "/nope"})
	require.EqualError(t, err, "API [/nope] not found in remote platform")
}

func TestDomainUpdateUnchanged(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", nil))

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "/erp/projects"}))
	require.Contains(t, e.out(), " - Fetching remote API for comparison...")
	require.Contains(t, e.out(), " = API [/erp/projects] is unchanged (local backup equals remote)")
	if n := len(e.srv.Requests("PUT")); n != 0 {
		t.Errorf("Expected no PUT for an unchanged API, got %d", n)
	}
}

func TestDomainUpdatePushesChanges(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", nil))

	doc := e.load(t, "APIs", "_erp_projects.json")
	record.From(doc[apiEntity])["Title"] = "Projects v2"
	e.save(t, "APIs", "_erp_projects.json", doc)

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "/erp/projects"}))
	out := e.out()
	require.Contains(t, out, " + API record updated")
	require.Contains(t, out, " - Updating 2 endpoints...")
	require.Contains(t, out, " + Endpoints updated")
	require.Contains(t, out, " + API [/erp/projects] updated successfully in remote platform")

	puts := e.srv.Requests("PUT")
	require.Len(t, puts, 3)
	if puts[0].Entity != apiEntity || puts[0].ID != "/erp/projects" {
		t.Errorf("Expected the API PUT first, got %s", puts[0])
	}
	for _, r := range e.srv.Records(apiEntity) {
		if r.Str("KeyName") == "/erp/projects" && r.Str("Title") != "Projects v2" {
			t.Errorf("Expected remote title Projects v2, got %s", r.Str("Title"))
		}
	}
}

func TestDomainUpdateChildFailure(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", nil))

	doc := e.load(t, "APIs", "_erp_projects.json")
	record.From(doc[apiEntity])["Status"] = "deprecated"
	e.save(t, "APIs", "_erp_projects.json", doc)
	e.srv.Fail("PUT", epEntity, "read only")

	err := e.call(t, "update-from-backup", script.Params{"id": "/erp/projects"})
	require.Error(t, err)
	require.Contains(t, e.out(), "   # Warning: Failed to update endpoint [list]: read only")
}

func TestDomainInsert(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", nil))

	err := e.call(t, "insert-from-backup", script.Params{"id": "/erp/projects"})
	require.EqualError(t, err, "API [/erp/projects] already exists in remote platform. Use update-from-backup instead.")

	e.save(t, "APIs", backup.APIFilename("/new/api"), map[string]any{
		apiEntity: record.Record{"KeyName": "/new/api", "Title": "New"},
		epEntity:  []record.Record{{"KeyName": "get-root", "API": "/new/api"}},
	})
	require.NoError(t, e.call(t, "insert-from-backup", script.Params{"id": "new/api"}))
	out := e.out()
	require.Contains(t, out, " - API to insert: /new/api")
	require.Contains(t, out, " + API record inserted")
	require.Contains(t, out, " + Endpoints inserted")
	require.Contains(t, out, " + API [/new/api] inserted successfully in remote platform")
	require.Contains(t, out, "   = Unchanged: _new_api.json")
}

func TestDomainFetchErrorsBlockWrites(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)
	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "/erp/projects"}))

	e.srv.Fail("GET", apiEntity, "temporary outage")
	require.ErrorContains(t, e.call(t, "update-from-backup", script.Params{"id": "/erp/projects"}), "temporary outage")
	require.ErrorContains(t, e.call(t, "insert-from-backup", script.Params{"id": "/erp/projects"}), "temporary outage")
	e.requireNoWrites(t)
}

func TestDomainLoadErrors(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)

	err := e.call(t, "insert-from-backup", nil)
	require.EqualError(t, err, "Missing required parameter: id. Usage: _cloudia/apis/insert-from-backup?id=/path/to/api")

	e.save(t, "APIs", "_x.json", map[string]any{apiEntity: record.Record{"KeyName": "/y"}})
	err = e.call(t, "update-from-backup", script.Params{"id": "/x"})
	require.EqualError(t, err, "KeyName mismatch: file contains '/y' but expected '/x'")

	err = e.call(t, "update-from-backup", script.Params{"id": "/missing"})
	require.Error(t, err)
	require.Contains(t, e.out(), " - Backup file: /buckets/backups/APIs/acme/_missing.json")
}

func TestDomainListings(t *testing.T) {
	e := newEnv(t, APIs.Script(), nil)

	require.NoError(t, e.call(t, "list-local", nil))
	require.Contains(t, e.out(), "Backup directory not found: /buckets/backups/APIs/acme")

	seedAPIs(e.srv)
	require.NoError(t, e.call(t, "list-remote", nil))
	require.Contains(t, e.out(), "Listing APIs in remote platform [acme]:")
	require.Contains(t, e.out(), " /erp/projects - Projects [active]")

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	require.NoError(t, e.call(t, "list-local", nil))
	require.Contains(t, e.out(), " /erp/projects - Projects [active] (2 endpoints)")
	require.Contains(t, e.out(), "Total: 1 APIs")
}

func TestCFOsBackupNotes(t *testing.T) {
	e := newEnv(t, CFOs(), nil)
	e.srv.Seed(cfosEntity,
		record.Record{"KeyName": "Users", "type": "db", "interface": map[string]any{}, "DateUpdating": "2026-01-01"},
		record.Record{"KeyName": "Tasks", "type": "ds"},
	)

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	out := e.out()
	require.Contains(t, out, " - Backup directory: /buckets/backups/CFOs/acme")
	require.Contains(t, out, "   + Saved: Users.json")
	require.Contains(t, out, " - Total CFOs: 2 (saved: 2, unchanged: 0)")
	require.Contains(t, out, "   # CFOs without secrets: Users")
	require.Contains(t, out, "   # CFOs without DateUpdating: Tasks")

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "Users"}))
	require.Contains(t, e.out(), " = CFO [Users] is unchanged (local backup equals remote)")

	err := e.call(t, "insert-from-backup", nil)
	require.EqualError(t, err, "Missing required parameter: id. Usage: _backup/cfos/insert-from-backup?id=CFOName")
}

func TestWebPagesUpdate(t *testing.T) {
	e := newEnv(t, WebPages(), nil)
	e.srv.Seed(pagesEntity, record.Record{"KeyId": "7", "PageRoute": "/home", "Title": "Home"})

	require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "home"}))
	require.Contains(t, e.out(), " - Fetching WebPage: /home")
	file := backup.SafeFilename("/home")
	require.Contains(t, e.out(), "   + Saved: "+file)

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "/home"}))
	require.Contains(t, e.out(), " = ["+pagesEntity+"] is unchanged (local backup equals remote)")

	doc := e.load(t, pagesDir, file)
	record.From(doc[pagesEntity])["Title"] = "Start"
	e.save(t, pagesDir, file, doc)
	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "/home"}))
	require.Contains(t, e.out(), " + WebPage [/home] updated successfully in remote platform")
	require.Equal(t, "Start", e.srv.Records(pagesEntity)[0].Str("Title"))
}

func seedCourses(srv *cfotest.Server) {
	srv.Seed(groupsEntity, record.Record{"KeyId": "g1", "GroupName": "Cloud"})
	srv.Seed(courseEntity, record.Record{"KeyId": "5077", "CourseTitle": "Go", "GroupId": "g1", "Active": true})
	srv.Seed(contentEntity,
		record.Record{"KeyId": "1", "CourseId": "5077", "ContentTitle": "Intro"},
		record.Record{"KeyId": "2", "CourseId": "5077", "ContentTitle": "Outro"},
	)
}

func TestCoursesBackupAndList(t *testing.T) {
	e := newEnv(t, Courses(), nil)
	seedCourses(e.srv)

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	out := e.out()
	require.Contains(t, out, "   + Saved: groups.json (1 groups)")
	require.Contains(t, out, "   + Saved: 5077.json - Go (2 contents)")
	require.Contains(t, out, " - Total Courses/Contents: 1/2 (saved: 1, unchanged: 0)")

	require.NoError(t, e.call(t, "list-local", nil))
	require.Contains(t, e.out(), " [Cloud] 5077 - Go [Active]: 2 contents")
	require.Contains(t, e.out(), "Total: 1 Courses")

	e.save(t, coursesDir, "9.json", map[string]any{courseEntity: record.Record{"KeyId": "8"}})
	err := e.call(t, "update-from-backup", script.Params{"id": "9"})
	require.EqualError(t, err, "KeyId mismatch: file contains '8' but expected '9'")
}

func TestCoursesUpdateSyncsContents(t *testing.T) {
	e := newEnv(t, Courses(), nil)
	seedCourses(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "5077"}))

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "5077"}))
	require.Contains(t, e.out(), " = Course [5077] is unchanged (local backup equals remote)")

	doc := e.load(t, coursesDir, "5077.json")
	contents := record.List(doc[contentEntity])
	require.Len(t, contents, 2)
	contents[0]["ContentTitle"] = "Intro v2"
	doc[contentEntity] = []record.Record{contents[0], {"CourseId": "5077", "ContentTitle": "Extra"}}
	e.save(t, coursesDir, "5077.json", doc)

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "5077"}))
	out := e.out()
	for _, want := range []string{
		" - Local course loaded with 2 contents",
		" - Remote course found with 2 contents",
		" - Course data is identical, skipping update",
		"   - Updating: [1] Intro v2",
		"   - Deleting: [2] Outro",
		"   - Inserting: Extra",
		"   - Course: unchanged",
		"   - Contents same: 0",
		"   - Contents updated: 1",
		"   - Contents inserted: 1",
		"   - Contents deleted: 1",
		" - Backing up latest version from remote...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
	require.Len(t, e.srv.Records(contentEntity), 2)
}

func TestCoursesUpdateAbortsOnFetchError(t *testing.T) {
	for _, entity := range []string{courseEntity, contentEntity} {
		t.Run(entity, func(t *testing.T) {
			e := newEnv(t, Courses(), nil)
			seedCourses(e.srv)
			require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "5077"}))

			e.srv.Fail("GET", entity, "temporary outage")
			err := e.call(t, "update-from-backup", script.Params{"id": "5077"})
			require.ErrorContains(t, err, "temporary outage")
			require.NotContains(t, e.out(), "Remote course not found")
			e.requireNoWrites(t)
		})
	}
}

func TestCoursesUpdateInsertsMissingCourse(t *testing.T) {
	e := newEnv(t, Courses(), nil)
	e.save(t, coursesDir, "88.json", map[string]any{
		courseEntity:  record.Record{"KeyId": "88", "CourseTitle": "Rust"},
		contentEntity: []record.Record{},
	})

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "88"}))
	require.Contains(t, e.out(), " - Remote course not found, inserting...")
	require.Contains(t, e.out(), " + Course record inserted")
	require.Len(t, e.srv.Requests("POST"), 1)
}

func seedChecks(srv *cfotest.Server) {
	srv.Seed(checksEntity,
		record.Record{"KeyId": "1", "CFOEntity": "Proc", "CFOId": "P1", "Route": "/a", "Title": "A"},
		record.Record{"KeyId": "2", "CFOEntity": "Proc", "CFOId": "P1", "Route": "/b", "Title": "B"},
		record.Record{"KeyId": "3", "Route": "/c", "Title": "C"},
	)
}

func TestChecksBackupGroups(t *testing.T) {
	e := newEnv(t, Checks(), nil)
	seedChecks(e.srv)

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	out := e.out()
	require.Contains(t, out, " - Checks found: 3")
	require.Contains(t, out, "   + Saved: "+backup.ChecksFilename("Proc", "P1")+" (2 checks)")
	require.Contains(t, out, "   + Saved: "+backup.ChecksFilename(unlinked, unlinked)+" (1 checks)")
	require.Contains(t, out, " - Backup complete")

	require.NoError(t, e.call(t, "list-local", nil))
	require.Contains(t, e.out(), "Total: 3 Checks in 2 files")

	err := e.call(t, "insert-from-backup", script.Params{"entity": "Proc", "id": "P1"})
	require.EqualError(t, err, "Checks for [Proc/P1] already exist in remote platform. Use update-from-backup instead.")

	err = e.call(t, "update-from-backup", script.Params{"entity": "Proc"})
	require.EqualError(t, err, "Missing required parameters: entity and id. Usage: _cloudia/checks/update-from-backup?entity=CFOEntity&id=CFOId")
}

func TestChecksUpdateSyncs(t *testing.T) {
	e := newEnv(t, Checks(), nil)
	seedChecks(e.srv)
	params := script.Params{"entity": "Proc", "id": "P1"}
	require.NoError(t, e.call(t, "backup-from-remote", params))

	file := backup.ChecksFilename("Proc", "P1")
	doc := e.load(t, checksDir, file)
	checks := record.List(doc[checksEntity])
	require.Len(t, checks, 2)
	checks[1]["Title"] = "B2"
	doc[checksEntity] = []record.Record{checks[1], {"CFOEntity": "Proc", "CFOId": "P1", "Route": "/d", "Title": "D"}}
	e.save(t, checksDir, file, doc)

	require.NoError(t, e.call(t, "update-from-backup", params))
	out := e.out()
	require.Contains(t, out, " - Local checks: 2")
	require.Contains(t, out, " - Remote checks: 2")
	require.Contains(t, out, "   - Deleting [Proc/P1][1]: A")
	require.Contains(t, out, "   - Updating  [Proc/P1][2: /b]: B2")
	require.Contains(t, out, "   - Inserting [Proc/P1][/d: /d]: D")
	require.Contains(t, out, " + Checks [Proc/P1] updated successfully")

	require.Len(t, e.srv.Requests("DELETE"), 1)
	require.Len(t, e.srv.Requests("PUT"), 1)
	require.Len(t, e.srv.Requests("POST"), 1)

	bad := map[string]any{"CFOEntity": "Proc", "CFOId": "P1", checksEntity: []record.Record{{"Title": "no key"}}}
	e.save(t, checksDir, file, bad)
	err := e.call(t, "update-from-backup", params)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "ERROR in local checks: missing KeyId or Route in check:"), err.Error())
}

func seedProject(srv *cfotest.Server) {
	srv.Seed(projectEntity, record.Record{"KeyName": "cloud", "Title": "Cloud", "Status": "active", "Open": true})
	srv.Seed(milestoneEntity,
		record.Record{"KeyId": "10", "ProjectId": "cloud", "Title": "Design", "Status": "open", "DateDeadline": "2026-04-01 00:00:00"},
		record.Record{"KeyId": "11", "ProjectId": "cloud", "Title": "Ship", "Status": "closed"},
	)
}

func TestProjectsBackup(t *testing.T) {
	e := newEnv(t, Projects(), nil)
	seedProject(e.srv)

	require.NoError(t, e.call(t, "backup-from-remote", nil))
	out := e.out()
	require.Contains(t, out, " - Projects/Milestones to backup: 1/2")
	require.Contains(t, out, "   Milestones OPEN (1):")
	require.Contains(t, out, "   Milestones CLOSED (1):")
	require.Contains(t, out, " + Milestones: 0 created, 0 updated, 2 unchanged")
	require.Contains(t, out, "   + Saved: cloud.json (2 milestones)")
	require.Contains(t, out, " - Total Projects/Milestones: 1/2 (saved: 1, unchanged: 0)")

	doc := e.load(t, projectsDir, "cloud.json")
	require.Equal(t, tasksHelp("cloud"), doc.Str("CloudFrameWorkProjectsTasks"))

	require.NoError(t, e.call(t, "list-local", nil))
	require.Contains(t, e.out(), " cloud - Cloud [active] (Open) - 2 milestones")
}

func TestProjectsUpdate(t *testing.T) {
	e := newEnv(t, Projects(), nil)
	seedProject(e.srv)
	require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "cloud"}))

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "cloud"}))
	require.Contains(t, e.out(), " = Project [cloud] is unchanged (local backup equals remote)")
	require.Contains(t, e.out(), " = No updates needed for project [cloud]")

	// Drop milestone 11, rename 10 and add a new one.
	doc := e.load(t, projectsDir, "cloud.json")
	ms := record.List(doc[milestoneEntity])
	ms[0]["Title"] = "Design v2"
	doc[milestoneEntity] = []record.Record{ms[0], {"ProjectId": "cloud", "Title": "Launch"}}
	e.save(t, projectsDir, "cloud.json", doc)

	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "cloud"}))
	out := e.out()
	require.Contains(t, out, " - Changes detected, proceeding with update...")
	require.Contains(t, out, "   ⚠️  1 milestones will be DELETED from remote:")
	require.Contains(t, out, "   ❌ DELETION SKIPPED: Add 'confirm=1' parameter to confirm deletion")
	require.Contains(t, out, " + Milestones: 1 created, 1 updated, 0 unchanged")
	require.Contains(t, out, " + Project [cloud] sync completed")
	require.Empty(t, e.srv.Requests("DELETE"))

	// The backup now mirrors remote. Dropping Ship again leaves a single delete.
	doc = e.load(t, projectsDir, "cloud.json")
	var keep []record.Record
	for _, m := range record.List(doc[milestoneEntity]) {
		if m.Str("KeyId") != "11" {
			keep = append(keep, m)
		}
	}
	require.Len(t, keep, 2)
	doc[milestoneEntity] = keep
	e.save(t, projectsDir, "cloud.json", doc)
	require.NoError(t, e.call(t, "update-from-backup", script.Params{"id": "cloud", "confirm": "1"}))
	require.Contains(t, e.out(), "   ✓ Deletion confirmed, proceeding...")
	require.Contains(t, e.out(), "   - Deleting remote milestone: Ship")
	dels := e.srv.Requests("DELETE")
	require.Len(t, dels, 1)
	require.Equal(t, "11", dels[0].ID)
}

func TestProjectsUpdateAbortsOnFetchError(t *testing.T) {
	for _, entity := range []string{projectEntity, milestoneEntity} {
		t.Run(entity, func(t *testing.T) {
			e := newEnv(t, Projects(), nil)
			seedProject(e.srv)
			require.NoError(t, e.call(t, "backup-from-remote", script.Params{"id": "cloud"}))

			e.srv.Fail("GET", entity, "temporary outage")
			err := e.call(t, "update-from-backup", script.Params{"id": "cloud"})
			require.ErrorContains(t, err, "temporary outage")
			require.NotContains(t, e.out(), "Remote project not found")
			e.requireNoWrites(t)
		})
	}
}

func TestIsClosedMilestone(t *testing.T) {
	cases := []struct {
		m    record.Record
		want bool
	}{
		{record.Record{"is_closed": false, "Status": "closed", "Open": false}, false},
		{record.Record{"is_closed": true, "Status": "open"}, true},
		{record.Record{"is_closed": nil, "Status": "canceled"}, true},
		{record.Record{"status": "closed"}, true},
		{record.Record{"Status": "open", "Open": false}, true},
		{record.Record{"Status": "open"}, false},
	}
	for _, tc := range cases {
		if got := isClosedMilestone(tc.m); got != tc.want {
			t.Errorf("Expected isClosedMilestone(%v) = %v, got %v", tc.m, tc.want, got)
		}
	}
}

func TestProjectsInsert(t *testing.T) {
	e := newEnv(t, Projects(), nil)
	e.save(t, projectsDir, "fresh.json", map[string]any{
		projectEntity:   record.Record{"KeyName": "fresh", "Title": "Fresh"},
		milestoneEntity: []record.Record{{"KeyId": "5", "ProjectId": "old", "Title": "M1"}},
	})

	require.NoError(t, e.call(t, "insert-from-backup", script.Params{"id": "fresh"}))
	require.Contains(t, e.out(), " + Project record inserted (KeyName: fresh)")
	require.Contains(t, e.out(), " + Project [fresh] inserted successfully in remote platform")

	ms := e.srv.Records(milestoneEntity)
	require.Len(t, ms, 1)
	if ms[0].Str("ProjectId") != "fresh" || ms[0].Str("KeyId") == "5" {
		t.Errorf("Expected milestone relinked without its KeyId, got %v", ms[0])
	}

	err := e.call(t, "insert-from-backup", script.Params{"id": "fresh"})
	require.EqualError(t, err, "Project [fresh] already exists in remote platform. Use update-from-backup instead.")
}

func TestPlanLogsTally(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Init(true)
	defer func() {
		logger.Init(false)
		logger.SetOutput(os.Stderr)
	}()

	local := []record.Record{{"KeyId": "1", "T": "a"}, {"KeyId": "2", "T": "b2"}, {"KeyId": "4", "T": "d"}}
	remote := []record.Record{{"KeyId": "1", "T": "a"}, {"KeyId": "2", "T": "b"}, {"KeyId": "3", "T": "c"}}
	changes := plan("course 5077 contents", local, remote, sync.Options{})
	require.Len(t, changes, 4)
	require.Contains(t, buf.String(), "[DEBUG] course 5077 contents: 3 local, 3 remote, plan map[same:1 update:1 create:1 delete:1]")
}

func TestAuthLogin(t *testing.T) {
	e := newEnv(t, Auth(), nil)
	e.Config.TokenFile = filepath.Join(t.TempDir(), "cloudia", "token")
	e.Stdin = strings.NewReader("  abc123  \n")

	require.NoError(t, e.call(t, "login", nil))
	require.Contains(t, e.out(), " + Token saved: "+e.Config.TokenFile)
	b, err := os.ReadFile(e.Config.TokenFile)
	require.NoError(t, err)
	require.Equal(t, "abc123\n", string(b))

	e.Stdin = strings.NewReader("")
	require.ErrorIs(t, e.call(t, "login", nil), auth.ErrMissingToken)

	require.NoError(t, e.call(t, "x-ds-token", nil))
	require.Equal(t, "X-DS-TOKEN: tok:\n", e.out())

	require.EqualError(t, e.call(t, "access-token", nil), "GOOGLE_ACCESS_TOKEN is not defined")
}

func TestRegistry(t *testing.T) {
	scripts := Scripts()
	for _, name := range []string{"apis", "cfos", "checks", "projects", "tasks", "activity", "auth", "webpages", "courses"} {
		if _, ok := scripts[name]; !ok {
			t.Errorf("Expected script %s to be registered", name)
		}
	}
	names := Names()
	require.Len(t, names, len(scripts))
	require.IsNonDecreasing(t, names)

	dirs := BackupDirs()
	require.Equal(t, "APIs", dirs["apis"])
	require.Equal(t, "CFOs", dirs["cfos"])
	require.NotContains(t, dirs, "tasks")
}
