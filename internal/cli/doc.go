// Package cli provides the interactive MediaKeeper operator console.
//
// The console drives the engine in-process: local library events go straight
// to the Indexer, remote media operations and catalog reconciliation are
// submitted as jobs, and job records can be listed, inspected and cancelled.
//
// The REPL is started via Console.Run(ctx, in), which blocks until the user
// exits or in is exhausted. See runREPL for the command set.
package cli
