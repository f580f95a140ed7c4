package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs. Console satisfies
// it; tests can provide a lightweight stub.
type execIface interface {
	Status(ctx context.Context, args []string) error
	Scan(ctx context.Context, args []string) error
	Landed(ctx context.Context, args []string) error
	RmLocal(ctx context.Context, args []string) error
	MvLocal(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Publish(ctx context.Context, args []string) error
	Rebuild(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Thumb(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Jobs(ctx context.Context, args []string) error
	Job(ctx context.Context, args []string) error
	Cancel(ctx context.Context, args []string) error
	Prune(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  status                          catalog overview
  scan                            re-index the whole library
  landed <path>                   index a file that appeared in the library
  rm-local <path>...              drop deleted library files from the catalog
  mv-local <old> <new>            record a rename inside the library
  import                          pull the remote snapshot into the catalog
  publish [force]                 push the remote catalog to the snapshot
  rebuild                         re-derive the remote catalog from a listing
  sync [partition] [page]         local_only | remote_only | synced
  list <local|remote> [page]      list catalog entries
  upload <path>...                upload library files
  delete <identity>...            delete remote entries
  rename <identity> <new-path>    move a remote entry
  thumb <identity> <image-path>   replace the thumbnail of a remote entry
  download <identity>             copy a remote entry into the library
  jobs [status]                   list jobs
  job <id>                        show one job
  cancel <id>                     cancel a job
  prune [age]                     delete terminal jobs older than age
  exit | quit                     leave the console`

// runREPL reads one command per line from scanner and dispatches it to a.
// Errors returned by handlers are printed with their kind and the loop
// continues. The loop exits on scanner EOF, on "exit" or "quit", or when
// ctx is done.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	commands := map[string]func(context.Context, []string) error{
		"status":   a.Status,
		"scan":     a.Scan,
		"landed":   a.Landed,
		"rm-local": a.RmLocal,
		"mv-local": a.MvLocal,
		"import":   a.Import,
		"publish":  a.Publish,
		"rebuild":  a.Rebuild,
		"sync":     a.Sync,
		"l":        a.List,
		"list":     a.List,
		"upload":   a.Upload,
		"delete":   a.Delete,
		"rename":   a.Rename,
		"thumb":    a.Thumb,
		"download": a.Download,
		"jobs":     a.Jobs,
		"job":      a.Job,
		"cancel":   a.Cancel,
		"prune":    a.Prune,
	}

	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("mk %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		fn, ok := commands[cmd]
		if !ok {
			printlnFn("Unknown command:", cmd)
			continue
		}
		if err := fn(ctx, args); err != nil {
			printlnFn(fmt.Sprintf("error (%s): %v", common.KindOf(err), err))
		}
	}
}
