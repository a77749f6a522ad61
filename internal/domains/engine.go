package domains

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cloudia/internal/backup"
	"cloudia/internal/cfo"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/terminal"
)

// Layout is how a record is stored in its backup file.
type Layout int

const (
	// Flat files hold the record itself.
	Flat Layout = iota
	// Wrapped files hold {Entity: record}. Flat files are still accepted on read.
	Wrapped
	// Nested files hold {Entity: record, ChildEntity: [children]}.
	Nested
)

// Children describes the child entity of a Nested domain.
type Children struct {
	Entity string
	// Link is the child field holding the parent KeyName.
	Link string
	Sort string
	// Title names a child in warnings. Empty uses the child key.
	Title string

	Noun    string // endpoints
	NounOne string // endpoint
	Label   string // Endpoints

	// FetchOne completes " - Fetching ... [max 2000]" for a single parent.
	FetchOne string

	// Validate fails a single-parent backup when the platform returns
	// children linked to another parent.
	Validate bool
}

// Table is a fixed-width listing.
type Table struct {
	Format  string
	Headers []any
	Row     func(r record.Record, key string) []any
}

// Filter maps a query parameter to a filter_<Field> of list and backup requests.
type Filter struct {
	Param string
	Field string
}

// Stats are the counters of one backup run.
type Stats struct {
	Parents   int
	Children  int
	Saved     int
	Unchanged int
	Active    int
	Inactive  int
}

// Domain describes one backup/restore script over a CFO entity.
type Domain struct {
	Name     string
	Dir      string
	Entity   string
	Singular string
	Plural   string

	Privileges string
	Denied     string

	Layout   Layout
	Children *Children
	// Pair labels the parent/child counters, e.g. APIs/Endpoints.
	Pair string

	LeadingSlash bool
	Filename     func(id string) string

	Fields    string
	Order     string
	Width     int
	Table     *Table
	Line      func(r record.Record, key string) string
	SkipFiles []string
	Filters   []Filter

	// CompareLine is printed before comparing the backup with the remote
	// record. Empty means updates are pushed without comparison.
	CompareLine     string
	CompareChildren bool
	// UnchangedEntity prints the entity name instead of "<Singular> [id]"
	// in the unchanged line.
	UnchangedEntity bool
	RuleOnUnchanged bool

	// InsertedKey adds "(KeyName: x)" to the inserted line.
	InsertedKey bool

	Summary func(s Stats) string

	UsageID string
	Help    []string
}

// Script wires the domain into the script runner.
func (d *Domain) Script() *script.Script {
	return &script.Script{
		Name:       d.Name,
		Privileges: d.Privileges,
		Denied:     d.Denied,
		Help:       d.Help,
		Methods: map[string]script.Method{
			"list-remote":        d.ListRemote,
			"list-local":         d.ListLocal,
			"backup-from-remote": d.Backup,
			"insert-from-backup": d.Insert,
			"update-from-backup": d.Update,
		},
	}
}

func (d *Domain) normalize(id string) string {
	if d.LeadingSlash {
		return withSlash(id)
	}
	return id
}

func (d *Domain) width() int {
	if d.Width > 0 {
		return d.Width
	}
	return 60
}

// parent extracts the main record from a backup document.
func (d *Domain) parent(doc record.Record) record.Record {
	switch d.Layout {
	case Wrapped:
		return wrapped(doc, d.Entity)
	case Nested:
		if r := record.From(doc[d.Entity]); r != nil {
			return r
		}
		return record.Record{}
	}
	return doc
}

// document builds the backup file content for one parent.
func (d *Domain) document(p record.Record, kids []record.Record) any {
	switch d.Layout {
	case Wrapped:
		return map[string]any{d.Entity: p}
	case Nested:
		sorted := append([]record.Record{}, kids...)
		record.SortBy(sorted, d.Children.Sort)
		return map[string]any{d.Entity: p, d.Children.Entity: sorted}
	}
	return p
}

func (d *Domain) header(out *terminal.Printer) {
	if d.Table == nil {
		return
	}
	out.Linef(d.Table.Format, d.Table.Headers...)
	out.Rule(d.width())
}

func (d *Domain) row(r record.Record, key string) string {
	if d.Table != nil {
		return fmt.Sprintf(d.Table.Format, d.Table.Row(r, key)...)
	}
	return d.Line(r, key)
}

func (d *Domain) applyFilters(env *script.Env, p *cfo.Params) bool {
	filtered := false
	for _, f := range d.Filters {
		if v := env.Params.Get(f.Param); v != "" {
			p.Filter(f.Field, v)
			env.Out.Linef(" - Filtering by %s: %s", f.Field, v)
			filtered = true
		}
	}
	return filtered
}

// ListRemote prints the records of the entity held by the platform.
func (d *Domain) ListRemote(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing %s in remote platform [%s]:", d.Plural, env.Platform)
	out.Rule(d.width())

	p := cfo.NewParams().Fields(d.Fields).Order(d.Order).Limit(maxList)
	d.applyFilters(env, p)
	recs, err := env.API.List(ctx, d.Entity, p)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		out.Linef("No %s found in remote platform", d.Plural)
		return nil
	}

	d.header(out)
	for _, r := range recs {
		out.Line(d.row(r, r.Str("KeyName")))
	}
	out.Rule(d.width())
	out.Linef("Total: %d %s", len(recs), d.Plural)
	return nil
}

// ListLocal prints the records found in the backup directory.
func (d *Domain) ListLocal(ctx context.Context, env *script.Env) error {
	out := env.Out
	out.Linef("Listing %s in local backup [%s]:", d.Plural, env.Platform)
	out.Rule(d.width())

	if !env.Store.Exists(d.Dir) {
		out.Linef("Backup directory not found: %s", env.Store.RelDir(d.Dir))
		return nil
	}
	all, err := env.Store.Files(d.Dir)
	if err != nil {
		return err
	}
	files := all[:0:0]
	for _, f := range all {
		if !d.skipped(filepath.Base(f)) {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		out.Linef("No %s backup files found", d.Singular)
		return nil
	}

	d.header(out)
	for _, f := range files {
		doc := backup.Read(f)
		r := d.parent(doc)
		line := d.row(r, r.Or("KeyName", baseName(f)))
		if c := d.Children; c != nil {
			line += fmt.Sprintf(" (%d %s)", len(record.List(doc[c.Entity])), c.Noun)
		}
		out.Line(line)
	}
	out.Rule(d.width())
	out.Linef("Total: %d %s", len(files), d.Plural)
	return nil
}

func (d *Domain) skipped(name string) bool {
	for _, s := range d.SkipFiles {
		if s == name {
			return true
		}
	}
	return false
}

// fetch reads the parents (one when id is set) and their children.
func (d *Domain) fetch(ctx context.Context, env *script.Env, id string) ([]record.Record, []record.Record, error) {
	out := env.Out
	c := d.Children

	if id != "" {
		out.Linef(" - Fetching %s: %s", d.Singular, id)
		p, err := env.API.Display(ctx, d.Entity, id)
		if err != nil {
			return nil, nil, err
		}
		if p == nil {
			return nil, nil, fmt.Errorf("%s [%s] not found in remote platform", d.Singular, id)
		}
		if c == nil {
			return []record.Record{p}, nil, nil
		}
		out.Linef(" - Fetching %s... [max %d]", c.FetchOne, maxFetch)
		kids, err := env.API.List(ctx, c.Entity, cfo.NewParams().Filter(c.Link, id).CFOLimit(maxFetch))
		if err != nil {
			return nil, nil, err
		}
		if c.Validate {
			if err := d.validateLinks(kids, id); err != nil {
				return nil, nil, err
			}
		}
		return []record.Record{p}, kids, nil
	}

	p := cfo.NewParams().CFOLimit(maxFetch)
	if !d.applyFilters(env, p) {
		out.Linef(" - Fetching all %s... [max %d]", d.Plural, maxFetch)
	}
	parents, err := env.API.List(ctx, d.Entity, p)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return parents, nil, nil
	}
	out.Linef(" - Fetching all %s... [max %d]", c.Label, maxFetch)
	kids, err := env.API.List(ctx, c.Entity, cfo.NewParams().CFOLimit(maxFetch))
	if err != nil {
		return nil, nil, err
	}
	return parents, kids, nil
}

func (d *Domain) validateLinks(kids []record.Record, id string) error {
	var wrong []string
	for _, k := range kids {
		if k.Str(d.Children.Link) == id {
			continue
		}
		key := childKey(k)
		if key == "" {
			key = "unknown"
		}
		wrong = append(wrong, key)
	}
	if len(wrong) == 0 {
		return nil
	}
	return fmt.Errorf("Found %d %s with incorrect %s (expected '%s'): %s",
		len(wrong), d.Children.Noun, d.Children.Link, id, strings.Join(wrong, ", "))
}

// Backup writes the remote records (all, or the one named by id) to the
// backup directory.
func (d *Domain) Backup(ctx context.Context, env *script.Env) error {
	out := env.Out
	dir, err := env.Store.Dir(d.Dir)
	if err != nil {
		return err
	}
	out.Linef(" - Backup directory: %s", env.Store.RelDir(d.Dir))

	parents, kids, err := d.fetch(ctx, env, d.normalize(env.Params.Get("id")))
	if err != nil {
		return err
	}
	if d.Children != nil {
		out.Linef(" - %s to backup: %d/%d", d.Pair, len(parents), len(kids))
	} else {
		out.Linef(" - %s to backup: %d", d.Plural, len(parents))
	}

	var byParent map[string][]record.Record
	if d.Children != nil {
		byParent = record.GroupBy(kids, d.Children.Link)
	}
	jobs := make([]saveJob, len(parents))
	for i, p := range parents {
		key := p.Str("KeyName")
		if key == "" {
			jobs[i] = saveJob{Skip: true}
			continue
		}
		jobs[i] = saveJob{Key: key, File: d.Filename(key), Data: d.document(p, byParent[key])}
	}

	st := Stats{Parents: len(parents), Children: len(kids)}
	for i, res := range saveAll(ctx, env, dir, jobs) {
		j := jobs[i]
		if j.Skip {
			out.Linef("   # Skipping %s without KeyName", d.Singular)
			continue
		}
		if res.Err != nil {
			return fmt.Errorf("Failed to write %s [%s] to file", d.Singular, j.Key)
		}
		if parents[i].Bool("Active") {
			st.Active++
		} else {
			st.Inactive++
		}
		if res.Value == backup.Unchanged {
			st.Unchanged++
			out.Linef("   = Unchanged: %s", j.File)
			continue
		}
		st.Saved++
		if d.Children != nil {
			out.Linef("   + Saved: %s (%d %s)", j.File, len(byParent[j.Key]), d.Children.Noun)
		} else {
			out.Linef("   + Saved: %s", j.File)
		}
	}

	out.Rule(50)
	out.Line(d.Summary(st))
	return nil
}

// load reads and validates the backup of id.
func (d *Domain) load(env *script.Env, id string) (record.Record, []record.Record, error) {
	doc, err := loadBackup(env, d.Dir, d.Filename(id))
	if err != nil {
		return nil, nil, err
	}
	env.Out.Linef(" - %s data loaded successfully", d.Singular)

	p := d.parent(doc)
	if got := p.Str("KeyName"); got != id {
		return nil, nil, fmt.Errorf("KeyName mismatch: file contains '%s' but expected '%s'", got, id)
	}
	var kids []record.Record
	if d.Children != nil {
		kids = record.List(doc[d.Children.Entity])
	}
	return p, kids, nil
}

func (d *Domain) childTitle(k record.Record, inserting bool) string {
	c := d.Children
	if c.Title != "" {
		return k.Or(c.Title, childKey(k))
	}
	if inserting {
		return k.Or("Title", k.Str("KeyName"))
	}
	return childKey(k)
}

// pushChildren upserts every child and stops at the first failure.
func (d *Domain) pushChildren(ctx context.Context, env *script.Env, kids []record.Record, inserting bool) error {
	c := d.Children
	if c == nil || len(kids) == 0 {
		return nil
	}
	verb, doing, done := "update", "Updating", "updated"
	if inserting {
		verb, doing, done = "insert", "Inserting", "inserted"
	}
	env.Out.Linef(" - %s %d %s...", doing, len(kids), c.Noun)
	for _, k := range kids {
		if err := upsert(ctx, env.API, c.Entity, childKey(k), k); err != nil {
			env.Out.Linef("   # Warning: Failed to %s %s [%s]: %s", verb, c.NounOne, d.childTitle(k, inserting), cfo.Message(err))
			return err
		}
	}
	env.Out.Linef(" + %s %s", c.Label, done)
	return nil
}

// Insert creates the record of the backup named by id. It fails when the
// record already exists.
func (d *Domain) Insert(ctx context.Context, env *script.Env) error {
	out := env.Out
	id := env.Params.Get("id")
	if id == "" {
		return missingID(d.Name, "insert-from-backup", d.UsageID)
	}
	id = d.normalize(id)
	out.Linef(" - %s to insert: %s", d.Singular, id)

	p, kids, err := d.load(env, id)
	if err != nil {
		return err
	}
	if remote, err := env.API.Get(ctx, d.Entity, id); err != nil {
		return err
	} else if remote != nil {
		return fmt.Errorf("%s [%s] already exists in remote platform. Use update-from-backup instead.", d.Singular, id)
	}

	out.Linef(" - Inserting %s in remote platform...", d.Singular)
	if _, err := env.API.Insert(ctx, d.Entity, p); err != nil {
		return err
	}
	if d.InsertedKey {
		out.Linef(" + %s record inserted (KeyName: %s)", d.Singular, id)
	} else {
		out.Linef(" + %s record inserted", d.Singular)
	}
	if err := d.pushChildren(ctx, env, kids, true); err != nil {
		return err
	}

	out.Rule(50)
	out.Linef(" + %s [%s] inserted successfully in remote platform", d.Singular, id)
	return d.Backup(ctx, env.With("id", id))
}

// Update pushes the backup named by id to the platform unless the remote
// record already matches it.
func (d *Domain) Update(ctx context.Context, env *script.Env) error {
	out := env.Out
	id := env.Params.Get("id")
	if id == "" {
		return missingID(d.Name, "update-from-backup", d.UsageID)
	}
	id = d.normalize(id)
	out.Linef(" - %s to update: %s", d.Singular, id)

	p, kids, err := d.load(env, id)
	if err != nil {
		return err
	}

	if d.CompareLine != "" {
		out.Line(d.CompareLine)
		same, err := d.matchesRemote(ctx, env, id, p, kids)
		if err != nil {
			return err
		}
		if same {
			if d.RuleOnUnchanged {
				out.Rule(50)
			}
			if d.UnchangedEntity {
				out.Linef(" = [%s] is unchanged (local backup equals remote)", d.Entity)
			} else {
				out.Linef(" = %s [%s] is unchanged (local backup equals remote)", d.Singular, id)
			}
			return nil
		}
	}

	out.Linef(" - Updating %s in remote platform...", d.Singular)
	if _, err := env.API.Update(ctx, d.Entity, id, p); err != nil {
		return err
	}
	out.Linef(" + %s record updated", d.Singular)
	if err := d.pushChildren(ctx, env, kids, false); err != nil {
		return err
	}

	out.Rule(50)
	out.Linef(" + %s [%s] updated successfully in remote platform", d.Singular, id)
	return d.Backup(ctx, env.With("id", id))
}

// matchesRemote reports whether the remote record (and its children when
// CompareChildren is set) equals the backup.
func (d *Domain) matchesRemote(ctx context.Context, env *script.Env, id string, p record.Record, kids []record.Record) (bool, error) {
	remote, err := env.API.Display(ctx, d.Entity, id)
	if err != nil {
		return false, err
	}
	if remote == nil || !record.Equal(remote, p) {
		return false, nil
	}
	if !d.CompareChildren || d.Children == nil {
		return true, nil
	}
	c := d.Children
	remoteKids, err := env.API.List(ctx, c.Entity, cfo.NewParams().Filter(c.Link, id).CFOLimit(maxFetch))
	if err != nil {
		return false, err
	}
	local := append([]record.Record{}, kids...)
	record.SortBy(remoteKids, "KeyName")
	record.SortBy(local, "KeyName")
	return record.Equal(remoteKids, local), nil
}
