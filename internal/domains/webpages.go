package domains

import (
	"context"
	"errors"
	"fmt"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
)

const (
	pagesDir    = "WebPages"
	pagesEntity = "CloudFrameWorkECMPages"
)

// WebPages backs up ECM pages. Pages are addressed by PageRoute; the KeyId
// is only used for updates.
func WebPages() *script.Script {
	return &script.Script{
		Name:       "webpages",
		Privileges: "development-admin,development-user,ecm-admin,ecm-user",
		Denied:     "development-admin,ecm-admin",
		Help:       standardHelp("webpages", "WebPages", "WebPage", "/x", "/training/cfos/cfi/views/conditional_rows_background_color"),
		Methods: map[string]script.Method{
			"list-remote":        pagesListRemote,
			"list-local":         pagesListLocal,
			"backup-from-remote": pagesBackup,
			"insert-from-backup": pagesInsert,
			"update-from-backup": pagesUpdate,
		},
	}
}

func pageLine(r record.Record, route string) string {
	return fmt.Sprintf(" %s - %s [%s]", route, r.Or("PageTitle", "N/A"), r.Or("Status", "N/A"))
}

func pagesListRemote(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing WebPages in remote platform [%s]:", env.Platform)
	out.Rule(60)
	pages, err := env.API.List(ctx, pagesEntity, cfo.NewParams().Fields("KeyId,PageRoute,PageTitle,Status").Order("PageRoute").Limit(maxList))
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		out.Line("No WebPages found in remote platform")
		return nil
	}
	for _, p := range pages {
		out.Line(pageLine(p, p.Or("PageRoute", "N/A")))
	}
	out.Rule(60)
	out.Linef("Total: %d WebPages", len(pages))
	return nil
}

func pagesListLocal(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing WebPages in local backup [%s]:", env.Platform)
	out.Rule(60)
	if !env.Store.Exists(pagesDir) {
		out.Linef("Backup directory not found: %s", env.Store.RelDir(pagesDir))
		return nil
	}
	files, err := env.Store.Files(pagesDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		out.Line("No WebPage backup files found")
		return nil
	}
	for _, f := range files {
		p := record.From(backup.Read(f)[pagesEntity])
		if p == nil {
			p = record.Record{}
		}
		out.Line(pageLine(p, p.Or("PageRoute", baseName(f))))
	}
	out.Rule(60)
	out.Linef("Total: %d WebPages", len(files))
	return nil
}

func pagesBackup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir(pagesDir)
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir(pagesDir))

	var pages []record.Record
	if route := withSlash(env.Params.Get("id")); route != "" {
		out.Linef(" - Fetching WebPage: %s", route)
		pages, err = env.API.List(ctx, pagesEntity, cfo.NewParams().Filter("PageRoute", route))
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			return fmt.Errorf("WebPage [%s] not found in remote platform", route)
		}
	} else {
		out.Linef(" - Fetching all WebPages... [max %d]", maxFetch)
		pages, err = env.API.List(ctx, pagesEntity, cfo.NewParams().CFOLimit(maxFetch))
		if err != nil {
			return err
		}
	}
	out.Linef(" - WebPages to backup: %d", len(pages))

	jobs := make([]saveJob, len(pages))
	for i, p := range pages {
		route := p.Str("PageRoute")
		if route == "" {
			jobs[i] = saveJob{Skip: true}
			continue
		}
		jobs[i] = saveJob{Key: route, File: backup.SafeFilename(route), Data: map[string]any{pagesEntity: p}}
	}

	saved, unchanged := 0, 0
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		switch {
		case j.Skip:
			out.Line("   # Skipping WebPage without PageRoute")
		case res.Err != nil:
			return fmt.Errorf("Failed to write WebPage [%s] to file", j.Key)
		case res.Value == backup.Unchanged:
			unchanged++
			out.Linef("   = Unchanged: %s", j.File)
		default:
			saved++
			out.Linef("   + Saved: %s", j.File)
		}
	}
	out.Rule(50)
	out.Linef(" - Total WebPages processed: %d (saved: %d, unchanged: %d)", len(pages), saved, unchanged)
	return nil
}

// pagesLoad validates the id, reads the backup and checks its PageRoute.
func pagesLoad(env *script.Env, method, verb string) (string, record.Record, error) {
	route := env.Params.Get("id")
	if route == "" {
		return "", nil, missingID("webpages", method, "/page/route")
	}
	route = withSlash(route)
	env.Out.Linef(" - WebPage to %s: %s", verb, route)

	doc, err := loadBackup(env, pagesDir, backup.SafeFilename(route))
	if err != nil {
		return "", nil, err
	}
	env.Out.Line(" - WebPage data loaded successfully")
	page := record.From(doc[pagesEntity])
	if got := page.Str("PageRoute"); page == nil || got != route {
		return "", nil, fmt.Errorf("PageRoute mismatch: file contains '%s' but expected '%s'", got, route)
	}
	return route, page, nil
}

func pagesUpdate(ctx context.Context, env *script.Env) error {
	out := env.Out
	route, page, err := pagesLoad(env, "update-from-backup", "update")
	if err != nil {
		return err
	}
	keyID := page.Str("KeyId")
	if keyID == "" {
		return errors.New("KeyId not found in WebPage data. Cannot update.")
	}

	out.Line(" - Fetching remote WebPage to compare...")
	remote, err := env.API.Get(ctx, pagesEntity, keyID)
	if err != nil {
		return err
	}
	if remote != nil && record.Equal(remote, page) {
		out.Linef(" = [%s] is unchanged (local backup equals remote)", pagesEntity)
		return nil
	}

	out.Line(" - Updating WebPage in remote platform...")
	if _, err := env.API.Update(ctx, pagesEntity, keyID, page); err != nil {
		return err
	}
	out.Line(" + WebPage record updated")
	out.Rule(50)
	out.Linef(" + WebPage [%s] updated successfully in remote platform", route)
	return pagesBackup(ctx, env.With("id", route))
}

func pagesInsert(ctx context.Context, env *script.Env) error {
	out := env.Out
	route, page, err := pagesLoad(env, "insert-from-backup", "insert")
	if err != nil {
		return err
	}
	if found, err := env.API.List(ctx, pagesEntity, cfo.NewParams().Filter("PageRoute", route)); err != nil {
		return err
	} else if len(found) > 0 {
		return fmt.Errorf("WebPage [%s] already exists in remote platform. Use update-from-backup instead.", route)
	}

	out.Line(" - Inserting WebPage in remote platform...")
	if _, err := env.API.Insert(ctx, pagesEntity, page.Without("KeyId")); err != nil {
		return err
	}
	out.Line(" + WebPage record inserted")
	out.Rule(50)
	out.Linef(" + WebPage [%s] inserted successfully in remote platform", route)
	return pagesBackup(ctx, env.With("id", route))
}
