package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/library"
	"github.com/dmitrijs2005/mediakeeper/internal/media"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/reconcile"
)

// Engine is everything the console talks to.
type Engine struct {
	Catalog   *catalog.Store
	Indexer   *library.Indexer
	Reconcile *reconcile.Service
	Media     *media.Service
	Jobs      *jobs.Orchestrator
	// JobRetention is the default age for prune.
	JobRetention time.Duration
}

// Console executes operator commands against an Engine and writes results
// to out.
type Console struct {
	e   Engine
	out io.Writer
}

func NewConsole(e Engine, out io.Writer) *Console {
	return &Console{e: e, out: out}
}

// Run starts the REPL on in. It blocks until the user exits, in is
// exhausted or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	printlnFn("MediaKeeper console (type 'help' for commands)")
	runREPL(ctx, c, c.prompt, bufio.NewScanner(in))
}

func (c *Console) prompt() string {
	if n := len(c.e.Jobs.Active()); n > 0 {
		return fmt.Sprintf("(%d active)", n)
	}
	return ""
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func usage(u string) error {
	return fmt.Errorf("usage: %s: %w", u, common.ErrValidation)
}

func pageArg(args []string, i int) (int, error) {
	if len(args) <= i {
		return 1, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad page %q: %w", args[i], common.ErrValidation)
	}
	return n, nil
}

func (c *Console) submitted(id string, err error) error {
	if err != nil {
		return err
	}
	c.printf("job %s submitted", id)
	return nil
}

func stamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func (c *Console) Status(ctx context.Context, args []string) error {
	st := c.e.Reconcile.Status(ctx)
	c.printf("schema version:   %d", st.SchemaVersion)
	c.printf("entries:          %d local, %d remote", st.Counts.Local, st.Counts.Remote)
	c.printf("library indexed:  %s", stamp(st.LastLocalBootstrapAt))
	c.printf("last import:      %s", stamp(st.LastImportedAt))
	c.printf("last publish:     %s", stamp(st.LastPublishedAt))
	c.printf("snapshot version: %s", st.SnapshotETag)
	c.printf("auto publish:     %t", st.AutoPublish)
	if st.Warning != "" {
		c.printf("warning: %s", st.Warning)
	}
	return nil
}

func (c *Console) Scan(ctx context.Context, args []string) error {
	n, err := c.e.Indexer.Bootstrap(ctx)
	if err != nil {
		return err
	}
	c.printf("indexed %d entries", n)
	return nil
}

func (c *Console) Landed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("landed <path>")
	}
	e, err := c.e.Indexer.FileLanded(ctx, args[0])
	if err != nil {
		return err
	}
	c.printf("indexed %s (%d assets)", e.Path, len(e.Assets))
	return nil
}

func (c *Console) RmLocal(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return usage("rm-local <path>...")
	case 1:
		return c.e.Indexer.Deleted(ctx, args[0])
	default:
		return c.e.Indexer.BatchDeleted(ctx, args)
	}
}

func (c *Console) MvLocal(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("mv-local <old> <new>")
	}
	e, err := c.e.Indexer.Renamed(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	c.printf("indexed %s", e.Path)
	return nil
}

func (c *Console) Import(ctx context.Context, args []string) error {
	return c.submitted(c.e.Reconcile.SubmitImport(ctx))
}

func (c *Console) Publish(ctx context.Context, args []string) error {
	force := len(args) == 1 && args[0] == "force"
	if len(args) > 1 || (len(args) == 1 && !force) {
		return usage("publish [force]")
	}
	return c.submitted(c.e.Reconcile.SubmitPublish(ctx, force))
}

func (c *Console) Rebuild(ctx context.Context, args []string) error {
	return c.submitted(c.e.Reconcile.SubmitRebuild(ctx))
}

func (c *Console) Sync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s := c.e.Reconcile.SyncStatus(ctx)
		c.printf("local only: %d, remote only: %d, synced: %d", s.LocalOnly, s.RemoteOnly, s.Synced)
		if s.Warning != "" {
			c.printf("warning: %s", s.Warning)
		}
		return nil
	}

	page, err := pageArg(args, 1)
	if err != nil {
		return err
	}
	p, warning, err := c.e.Reconcile.SyncItems(ctx, models.Partition(args[0]), page, common.DefaultPageSize)
	if err != nil {
		return err
	}
	for _, it := range p.Items {
		c.printf("%s", it.Path)
	}
	c.printf("page %d, %d of %d", p.Page, len(p.Items), p.Total)
	if warning != "" {
		c.printf("warning: %s", warning)
	}
	return nil
}

func (c *Console) List(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("list <local|remote> [page]")
	}
	loc, err := models.ParseLocation(args[0])
	if err != nil {
		return err
	}
	page, err := pageArg(args, 1)
	if err != nil {
		return err
	}
	p, err := c.e.Catalog.List(ctx, loc, page, common.DefaultPageSize, models.Filter{})
	if err != nil {
		return err
	}
	for _, e := range p.Items {
		c.printf("%s\t%d\t%s", e.Path, e.Size, e.Identity)
	}
	c.printf("page %d, %d of %d", p.Page, len(p.Items), p.Total)
	return nil
}

func (c *Console) Upload(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return usage("upload <path>...")
	case 1:
		return c.submitted(c.e.Media.Upload(ctx, args[0]))
	default:
		return c.submitted(c.e.Media.BatchUpload(ctx, args))
	}
}

func (c *Console) Delete(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return usage("delete <identity>...")
	case 1:
		return c.submitted(c.e.Media.DeleteRemote(ctx, args[0]))
	default:
		return c.submitted(c.e.Media.BatchDeleteRemote(ctx, args))
	}
}

func (c *Console) Rename(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("rename <identity> <new-path>")
	}
	return c.submitted(c.e.Media.RenameRemote(ctx, args[0], args[1]))
}

func (c *Console) Thumb(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("thumb <identity> <image-path>")
	}
	return c.submitted(c.e.Media.UpdateThumbnail(ctx, args[0], args[1]))
}

func (c *Console) Download(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("download <identity>")
	}
	return c.submitted(c.e.Media.DownloadRemote(ctx, args[0]))
}

func (c *Console) Jobs(ctx context.Context, args []string) error {
	var f models.JobFilter
	for _, a := range args {
		f.Statuses = append(f.Statuses, models.JobStatus(strings.ToLower(a)))
	}
	list, err := c.e.Jobs.List(ctx, f)
	if err != nil {
		return err
	}
	for _, j := range list {
		c.printf("%s\t%s\t%s\t%.1f%%", j.ID, j.Type, j.Status, j.Progress.Percent)
	}
	c.printf("%d jobs", len(list))
	return nil
}

func (c *Console) Job(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("job <id>")
	}
	j, err := c.e.Jobs.Get(ctx, args[0])
	if err != nil {
		return err
	}
	p := j.Progress
	c.printf("id:       %s", j.ID)
	c.printf("type:     %s", j.Type)
	c.printf("status:   %s", j.Status)
	c.printf("progress: %.1f%% (%d/%d items, %d/%d bytes)", p.Percent, p.ItemsDone, p.ItemsTotal, p.BytesDone, p.BytesTotal)
	if p.CurrentItem != "" {
		c.printf("current:  %s", p.CurrentItem)
	}
	if p.ETA > 0 && !j.Status.Terminal() {
		c.printf("eta:      %s", p.ETA)
	}
	if p.Note != "" {
		c.printf("note:     %s", p.Note)
	}
	if j.Error != nil {
		c.printf("error:    %s", j.Error)
	}
	return nil
}

func (c *Console) Cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("cancel <id>")
	}
	if err := c.e.Jobs.Cancel(ctx, args[0]); err != nil {
		return err
	}
	c.printf("cancellation requested for %s", args[0])
	return nil
}

func (c *Console) Prune(ctx context.Context, args []string) error {
	age := c.e.JobRetention
	if len(args) == 1 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d < 0 {
			return fmt.Errorf("bad age %q: %w", args[0], common.ErrValidation)
		}
		age = d
	} else if len(args) > 1 {
		return usage("prune [age]")
	}
	n, err := c.e.Jobs.Cleanup(ctx, age)
	if err != nil {
		return err
	}
	c.printf("pruned %d jobs", n)
	return nil
}
