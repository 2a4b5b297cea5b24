// Command ayb-query-daemon is the per-database helper process described in
// spec.md §4.3. It is spawned by the daemon registry, one process per
// database file; it applies the sandbox, opens the database, and serves
// the line-delimited JSON query protocol over stdio until EOF.
package main

import (
	"fmt"
	"os"

	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/querydaemon"
	"github.com/marcua/ayb/internal/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ayb-query-daemon <db-path> [--isolate]")
		os.Exit(1)
	}

	dbPath := os.Args[1]
	isolate := len(os.Args) > 2 && os.Args[2] == "--isolate"

	logger := logging.None()

	if isolate {
		caps := sandbox.Detect()
		sandbox.ReportStartup(logger, caps)
		sandbox.ApplyResourceLimits(logger, sandbox.DefaultResourceLimits())
		sandbox.ApplyFilesystemAllowlist(logger, dbPath)
		sandbox.ApplySyscallFilter(logger)
	}

	engine := querydaemon.Open(dbPath)

	if err := querydaemon.Serve(logger, engine, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exiting with error: %v\n", err)
		os.Exit(1)
	}
}
