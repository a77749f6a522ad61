package domains

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
)

const cfosEntity = "CloudFrameWorkCFOsLocal"

// CFOs backs up the CFO definitions of the platform. It talks to the .dev
// API and keeps the historic _backup/cfos web key.
func CFOs() *script.Script {
	return &script.Script{
		Name:           "cfos",
		WebKey:         "/scripts/_backup/cfos",
		UseCFOsURL:     true,
		Privileges:     devPrivileges,
		Denied:         devDenied,
		PlatformErr:    script.ErrNoCorePlatform,
		NotImplemented: "   #/%s is not implemented",
		Help: helpLines([][2]string{
			{"/backup-from-remote", "Backup all CFOs from remote platform"},
			{"/backup-from-remote?id=xx", "Backup specific CFO from remote platform"},
			{"/insert-from-backup?id=xx", "Insert new CFO in remote platform from local backup"},
			{"/update-from-backup?id=xx", "Update existing CFO in remote platform from local backup"},
		}, nil),
		Methods: map[string]script.Method{
			"backup-from-remote": cfosBackup,
			"insert-from-backup": cfosInsert,
			"update-from-backup": cfosUpdate,
		},
	}
}

func cfosBackup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir("CFOs")
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir("CFOs"))

	var cfos []record.Record
	if id := env.Params.Get("id"); id != "" {
		out.Linef(" - Fetching CFO: %s", id)
		rec, err := env.API.Display(ctx, cfosEntity, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("CFO [%s] not found in remote platform", id)
		}
		cfos = []record.Record{rec}
	} else {
		out.Line(" - Fetching all CFOs...")
		cfos, err = env.API.List(ctx, cfosEntity, cfo.NewParams().CFOLimit(maxFetch))
		if err != nil {
			return err
		}
	}
	out.Linef(" - CFOs to backup: %d", len(cfos))

	var noSecrets, noDate []string
	jobs := make([]saveJob, len(cfos))
	for i, c := range cfos {
		key := c.Str("KeyName")
		if key == "" {
			jobs[i] = saveJob{Skip: true}
			continue
		}
		if c.Or("type", "ds") != "ds" && !record.Truthy(record.From(c["interface"])["secret"]) {
			noSecrets = append(noSecrets, key)
		}
		if !c.Has("DateUpdating") {
			noDate = append(noDate, key)
		}
		jobs[i] = saveJob{Key: key, File: backup.CFOFilename(key), Data: c}
	}

	saved, unchanged := 0, 0
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		switch {
		case j.Skip:
			out.Line("   # Skipping CFO without KeyName")
		case res.Err != nil:
			return fmt.Errorf("Failed to write CFO [%s] to file", j.Key)
		case res.Value == backup.Unchanged:
			unchanged++
			out.Linef("   = Unchanged: %s", j.File)
		default:
			saved++
			out.Linef("   + Saved: %s", j.File)
		}
	}

	out.Rule(50)
	out.Linef(" - Total CFOs: %d (saved: %d, unchanged: %d)", len(cfos), saved, unchanged)
	if len(noSecrets) > 0 {
		out.Linef("   # CFOs without secrets: %s", strings.Join(noSecrets, ", "))
	}
	if len(noDate) > 0 {
		out.Linef("   # CFOs without DateUpdating: %s", strings.Join(noDate, ", "))
	}
	return nil
}

func cfosLoad(env *script.Env, method, verb string) (string, record.Record, error) {
	id := env.Params.Get("id")
	if id == "" {
		return "", nil, fmt.Errorf("Missing required parameter: id. Usage: _backup/cfos/%s?id=CFOName", method)
	}
	env.Out.Linef(" - CFO to %s: %s", verb, id)
	rec, err := loadBackup(env, "CFOs", backup.CFOFilename(id))
	if err != nil {
		return "", nil, err
	}
	env.Out.Line(" - CFO data loaded successfully")
	if got := rec.Str("KeyName"); got != id {
		return "", nil, fmt.Errorf("KeyName mismatch: file contains '%s' but expected '%s'", got, id)
	}
	return id, rec, nil
}

func cfosUpdate(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, rec, err := cfosLoad(env, "update-from-backup", "update")
	if err != nil {
		return err
	}

	out.Line(" - Fetching remote CFO for comparison...")
	remote, err := env.API.Display(ctx, cfosEntity, id)
	if err != nil {
		return cfosError(err)
	}
	if remote != nil && record.Equal(remote, rec) {
		out.Rule(50)
		out.Linef(" = CFO [%s] is unchanged (local backup equals remote)", id)
		return nil
	}

	out.Line(" - Updating CFO in remote platform...")
	if _, err := env.API.Update(ctx, cfosEntity, id, rec); err != nil {
		return cfosError(err)
	}
	out.Rule(50)
	out.Linef(" + CFO [%s] updated successfully in remote platform", id)
	return cfosBackup(ctx, env.With("id", id))
}

func cfosInsert(ctx context.Context, env *script.Env) error {
	out := env.Out
	id, rec, err := cfosLoad(env, "insert-from-backup", "insert")
	if err != nil {
		return err
	}

	out.Line(" - Inserting CFO in remote platform...")
	if _, err := env.API.Insert(ctx, cfosEntity, rec); err != nil {
		return cfosError(err)
	}
	out.Rule(50)
	out.Linef(" + CFO [%s] inserted successfully in remote platform", id)
	return cfosBackup(ctx, env.With("id", id))
}

// cfosError keeps the two platform error shapes and drops wrapping context.
func cfosError(err error) error {
	var aerr *cfo.APIError
	var rerr *cfo.RequestError
	if errors.As(err, &aerr) || errors.As(err, &rerr) {
		return err
	}
	return fmt.Errorf("API request failed: %w", err)
}
