// Package domains holds the _cloudia scripts that back up CFO documentation
// records to local JSON files and push them back to the platform.
package domains

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/concurrency"
	"cloudia/internal/logger"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/sync"
)

const (
	maxFetch = 2000
	maxList  = 1000
)

// saveJob is one backup file to write. Skip jobs only keep their position in
// the output.
type saveJob struct {
	Key  string
	File string
	Data any
	Skip bool
}

// saveAll writes the jobs in parallel. Results come back in job order so the
// caller can print them as if they had been written one by one.
func saveAll(ctx context.Context, env *script.Env, dir string, jobs []saveJob) []concurrency.Outcome[backup.Outcome] {
	opts := concurrency.ParallelOptions{MaxWorkers: env.Workers}
	return concurrency.ProcessParallel(ctx, jobs, opts, func(_ context.Context, _ int, j saveJob) (backup.Outcome, error) {
		if j.Skip {
			return backup.Unchanged, nil
		}
		return env.Store.Save(filepath.Join(dir, j.File), j.Data)
	})
}

// loadBackup prints the backup file line and reads the file.
func loadBackup(env *script.Env, dir, file string) (record.Record, error) {
	env.Out.Linef(" - Backup file: %s/%s", env.Store.RelDir(dir), file)
	return env.Store.Load(env.Store.File(dir, file))
}

func missingID(scriptName, method, usage string) error {
	return fmt.Errorf("Missing required parameter: id. Usage: _cloudia/%s/%s?id=%s", scriptName, method, usage)
}

func withSlash(id string) string {
	if id != "" && !strings.HasPrefix(id, "/") {
		return "/" + id
	}
	return id
}

// orNA renders a listing field, N/A when missing or empty.
func orNA(r record.Record, field string) string {
	if s := r.Str(field); s != "" {
		return s
	}
	return "N/A"
}

// childKey is the id used to upsert a child record: KeyId, else KeyName.
func childKey(r record.Record) string {
	if r.Has("KeyId") {
		return r.Str("KeyId")
	}
	return r.Str("KeyName")
}

// upsert PUTs rec to key when it has one and POSTs it otherwise.
func upsert(ctx context.Context, api *cfo.Client, entity, key string, rec record.Record) error {
	if key != "" {
		_, err := api.Update(ctx, entity, key, rec)
		return err
	}
	_, err := api.Insert(ctx, entity, rec)
	return err
}

// wrapped reads the record stored under entity, or the whole document when
// the file holds the flat record.
func wrapped(doc record.Record, entity string) record.Record {
	if r := record.From(doc[entity]); r != nil {
		return r
	}
	return doc
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// helpLines renders "  /cmd  - text" pairs aligned on the dash.
func helpLines(cmds [][2]string, examples []string, notes ...string) []string {
	w := 0
	for _, c := range cmds {
		if len(c[0]) > w {
			w = len(c[0])
		}
	}
	out := make([]string, 0, len(cmds)+len(examples)+len(notes)+3)
	for _, c := range cmds {
		out = append(out, fmt.Sprintf("  %-*s - %s", w+1, c[0], c[1]))
	}
	if len(examples) > 0 {
		out = append(out, "", "Examples:")
		for _, e := range examples {
			out = append(out, "  cloudia run "+e)
		}
	}
	if len(notes) > 0 {
		out = append(out, "")
		out = append(out, notes...)
	}
	return out
}

// plan diffs a backup against remote and logs the tally under --debug.
func plan(what string, local, remote []record.Record, opts sync.Options) []sync.Change {
	changes := sync.Diff(local, remote, opts)
	logger.Debug("%s: %d local, %d remote, plan %v", what, len(local), len(remote), sync.Count(changes))
	return changes
}
