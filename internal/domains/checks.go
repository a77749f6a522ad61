package domains

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/sync"
	"cloudia/internal/terminal"
)

const (
	checksDir    = "Checks"
	checksEntity = "CloudFrameWorkDevDocumentationForProcessTests"
	unlinked     = "_unlinked"
)

// Checks backs up process tests grouped by the CFO record they are linked
// to. A group is addressed by entity and id instead of a single key.
func Checks() *script.Script {
	return &script.Script{
		Name:       "checks",
		Privileges: devPrivileges,
		Denied:     devDenied,
		Help: helpLines([][2]string{
			{"/backup-from-remote", "Backup all Checks from remote platform"},
			{"/backup-from-remote?entity=X&id=Y", "Backup specific Checks from remote platform"},
			{"/insert-from-backup?entity=X&id=Y", "Insert new Checks in remote platform from local backup"},
			{"/update-from-backup?entity=X&id=Y", "Update existing Checks in remote platform from local backup"},
			{"/list-remote", "List all Checks in remote platform"},
			{"/list-local", "List all Checks in local backup"},
		}, []string{
			`"_cloudia/checks/backup-from-remote?entity=CloudFrameWorkDevDocumentationForProcesses&id=PROC-001"`,
			"_cloudia/checks/list-remote",
		},
			"Parameters:",
			"  entity: The CFO KeyName to which the checks are linked (e.g., CloudFrameWorkDevDocumentationForProcesses)",
			"  id: The KeyName or KeyId of the specific record in the CFO",
		),
		Methods: map[string]script.Method{
			"list-remote":        checksListRemote,
			"list-local":         checksListLocal,
			"backup-from-remote": checksBackup,
			"insert-from-backup": checksInsert,
			"update-from-backup": checksUpdate,
		},
	}
}

// checkGroup is the content of one Checks backup file.
type checkGroup struct {
	Entity string
	ID     string
	Checks []record.Record
}

func (g checkGroup) document() map[string]any {
	sorted := append([]record.Record{}, g.Checks...)
	record.SortBy(sorted, "KeyId")
	return map[string]any{
		"CFOEntity":  g.Entity,
		"CFOId":      g.ID,
		checksEntity: sorted,
	}
}

func (g checkGroup) file() string {
	return backup.ChecksFilename(g.Entity, g.ID)
}

// groupChecks buckets checks by CFOEntity/CFOId in first-seen order.
func groupChecks(checks []record.Record) []*checkGroup {
	var out []*checkGroup
	byKey := map[string]*checkGroup{}
	for _, c := range checks {
		e, id := c.Or("CFOEntity", unlinked), c.Or("CFOId", unlinked)
		k := e + "/" + id
		g, ok := byKey[k]
		if !ok {
			g = &checkGroup{Entity: e, ID: id}
			byKey[k] = g
			out = append(out, g)
		}
		g.Checks = append(g.Checks, c)
	}
	return out
}

func printCheckGroup(out *terminal.Printer, entity, id string, checks []record.Record) {
	out.Linef(" [%s] %s (%d checks)", entity, id, len(checks))
	for _, c := range checks {
		out.Linef("   - %s: [%s] %s [%s]", c.Str("KeyId"), c.Str("Route"), c.Or("Title", "N/A"), c.Or("Status", "N/A"))
	}
}

func checksListRemote(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing Checks in remote platform [%s]:", env.Platform)
	out.Rule(80)
	checks, err := env.API.List(ctx, checksEntity, cfo.NewParams().Fields("KeyId,CFOEntity,CFOId,Route,Title,Status").Order("CFOEntity,CFOId").Limit(maxList))
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		out.Line("No Checks found in remote platform")
		return nil
	}
	groups := groupChecks(checks)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Entity+"/"+groups[i].ID < groups[j].Entity+"/"+groups[j].ID
	})
	for _, g := range groups {
		printCheckGroup(out, g.Entity, g.ID, g.Checks)
	}
	out.Rule(80)
	out.Linef("Total: %d Checks in %d groups", len(checks), len(groups))
	return nil
}

func checksListLocal(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing Checks in local backup [%s]:", env.Platform)
	out.Rule(80)
	if !env.Store.Exists(checksDir) {
		out.Linef("Backup directory not found: %s", env.Store.RelDir(checksDir))
		return nil
	}
	files, err := env.Store.Files(checksDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		out.Line("No Check backup files found")
		return nil
	}
	total := 0
	for _, f := range files {
		doc := backup.Read(f)
		checks := record.List(doc[checksEntity])
		total += len(checks)
		printCheckGroup(out, doc.Or("CFOEntity", unlinked), doc.Or("CFOId", unlinked), checks)
	}
	out.Rule(80)
	out.Linef("Total: %d Checks in %d files", total, len(files))
	return nil
}

func checksBackup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir(checksDir)
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir(checksDir))

	entity, id := env.Params.Get("entity"), env.Params.Get("id")
	var groups []*checkGroup
	if entity != "" && id != "" {
		out.Linef(" - Fetching Checks for: %s/%s", entity, id)
		checks, err := env.API.List(ctx, checksEntity, cfo.NewParams().Filter("CFOEntity", entity).Filter("CFOId", id).Limit(500))
		if err != nil {
			return err
		}
		if len(checks) == 0 {
			out.Linef(" # No Checks found for [%s/%s]", entity, id)
			return nil
		}
		groups = []*checkGroup{{Entity: entity, ID: id, Checks: checks}}
	} else {
		out.Line(" - Fetching all Checks...")
		checks, err := env.API.List(ctx, checksEntity, cfo.NewParams().Limit(maxList))
		if err != nil {
			return err
		}
		if len(checks) == 0 {
			out.Line(" # No Checks found in remote platform")
			return nil
		}
		out.Linef(" - Checks found: %d", len(checks))
		groups = groupChecks(checks)
	}

	jobs := make([]saveJob, len(groups))
	for i, g := range groups {
		jobs[i] = saveJob{Key: g.Entity + "/" + g.ID, File: g.file(), Data: g.document()}
	}
	single := entity != "" && id != ""
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		switch {
		case res.Err != nil && single:
			return errors.New("Failed to write Checks to file")
		case res.Err != nil:
			out.Linef("   # Failed to write: %s", j.File)
		case res.Value == backup.Unchanged:
			out.Linef("   = Unchanged: %s (%d checks)", j.File, len(groups[i].Checks))
		default:
			out.Linef("   + Saved: %s (%d checks)", j.File, len(groups[i].Checks))
		}
	}
	out.Rule(50)
	out.Line(" - Backup complete")
	return nil
}

// checksLoad validates entity/id and reads the group backup.
func checksLoad(env *script.Env, method, verb string) (checkGroup, error) {
	entity, id := env.Params.Get("entity"), env.Params.Get("id")
	if entity == "" || id == "" {
		return checkGroup{}, fmt.Errorf("Missing required parameters: entity and id. Usage: _cloudia/checks/%s?entity=CFOEntity&id=CFOId", method)
	}
	env.Out.Linef(" - Checks to %s: %s/%s", verb, entity, id)
	doc, err := loadBackup(env, checksDir, backup.ChecksFilename(entity, id))
	if err != nil {
		return checkGroup{}, err
	}
	env.Out.Line(" - Checks data loaded successfully")
	if doc.Str("CFOEntity") != entity || doc.Str("CFOId") != id {
		return checkGroup{}, errors.New("CFOEntity/CFOId mismatch in backup file")
	}
	return checkGroup{Entity: entity, ID: id, Checks: record.List(doc[checksEntity])}, nil
}

func checkRef(c record.Record) string {
	return c.Str("CFOEntity") + "/" + c.Str("CFOId")
}

func checksUpdate(ctx context.Context, env *script.Env) error {
	out := env.Out
	g, err := checksLoad(env, "update-from-backup", "update")
	if err != nil {
		return err
	}
	out.Linef(" - Local checks: %d", len(g.Checks))

	localKey := sync.KeyOr("KeyId", "Route")
	for _, c := range g.Checks {
		if localKey(c) == "" {
			b, _ := record.Compact(c)
			return fmt.Errorf("ERROR in local checks: missing KeyId or Route in check: %s", b)
		}
	}

	remote, err := env.API.List(ctx, checksEntity, cfo.NewParams().Filter("CFOEntity", g.Entity).Filter("CFOId", g.ID).CFOLimit(500))
	if err != nil {
		return err
	}
	out.Linef(" - Remote checks: %d", len(remote))

	out.Line(" - Syncing checks...")
	for _, ch := range plan("checks "+g.Entity+"/"+g.ID, g.Checks, remote, sync.Options{LocalKey: localKey}) {
		switch ch.Op {
		case sync.Delete:
			out.Linef("   - Deleting [%s][%s]: %s", checkRef(ch.Remote), ch.Key, ch.Remote.Str("Title"))
			if err := env.API.Delete(ctx, checksEntity, ch.Key); err != nil {
				out.Linef("     # Warning: Failed to delete: %s", cfo.Message(err))
			}
		case sync.Update:
			l := ch.Local
			out.Linef("   - Updating  [%s][%s: %s]: %s", checkRef(l), ch.Key, l.Str("Route"), l.Str("Title"))
			if _, err := env.API.Update(ctx, checksEntity, ch.Key, l); err != nil {
				out.Linef("     # Warning: Failed to update: %s", cfo.Message(err))
			}
		case sync.Same:
			r := ch.Remote
			out.Linef("   - Are the same [%s][%s: %s]", checkRef(r), ch.Key, r.Str("Route"))
		case sync.Create:
			l := ch.Local
			verb := "Inserting"
			if l.Has("KeyId") {
				verb = "Updating"
			}
			out.Linef("   - %s [%s][%s: %s]: %s", verb, checkRef(l), ch.Key, l.Str("Route"), l.Str("Title"))
			if _, err := env.API.Insert(ctx, checksEntity, l); err != nil {
				out.Linef("     # Warning: Failed to insert: %s", cfo.Message(err))
			}
		}
	}

	out.Rule(50)
	out.Linef(" + Checks [%s/%s] updated successfully", g.Entity, g.ID)
	return checksBackup(ctx, env)
}

func checksInsert(ctx context.Context, env *script.Env) error {
	out := env.Out
	g, err := checksLoad(env, "insert-from-backup", "insert")
	if err != nil {
		return err
	}
	out.Linef(" - Checks to insert: %d", len(g.Checks))

	existing, err := env.API.List(ctx, checksEntity, cfo.NewParams().Filter("CFOEntity", g.Entity).Filter("CFOId", g.ID).Limit(1))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("Checks for [%s/%s] already exist in remote platform. Use update-from-backup instead.", g.Entity, g.ID)
	}

	out.Line(" - Inserting Checks in remote platform...")
	inserted := 0
	for _, c := range g.Checks {
		if _, err := env.API.Insert(ctx, checksEntity, c); err != nil {
			title := c.Or("Title", c.Or("KeyId", "unknown"))
			out.Linef("   # Warning: Failed to insert check [%s]: %s", title, cfo.Message(err))
			continue
		}
		inserted++
	}
	out.Linef(" + Inserted %d checks", inserted)
	out.Rule(50)
	out.Linef(" + Checks [%s/%s] inserted successfully in remote platform", g.Entity, g.ID)
	return checksBackup(ctx, env)
}
