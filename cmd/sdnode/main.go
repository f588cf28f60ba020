// Command sdnode runs and talks to the nodes of a small distributed-systems
// cluster: total-order multicast, token-ring mutual exclusion and bully
// leader election, all configured from the environment.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("sdnode", version)
		return
	}

	a := newApp()
	switch os.Args[1] {
	// Node
	case "serve":
		os.Exit(a.cmdServe(os.Args[2:]))

	// Client
	case "send":
		os.Exit(a.cmdSend(os.Args[2:]))
	case "state":
		os.Exit(a.cmdState(os.Args[2:]))
	case "log":
		os.Exit(a.cmdLog(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "sdnode: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'sdnode --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`sdnode: distributed-systems cluster node

Usage:
  sdnode <command> [flags]

Node:
  serve [multicast|ring|bully]   Run a node of the given service (default multicast)

Client:
  send <message>                 Multicast a message through NODE_ADDR
  state                          Show the state of the node at NODE_ADDR
  log [--since N] [--limit N]    Read the delivery journal (NODE_DB, or --remote)
  watch [--interval D]           Stream deliveries from NODE_ADDR as they happen

Environment:
  N_PROCS, PROC_ID, PORT, PEERS  Cluster shape; PROC_ID may be a pod name like node-2
  DELAY_PROCESS_ID, DELAY_SECONDS  Hold back one process's acks (fault injection)
  SEND_TIMEOUT, SEND_RETRIES     Peer request timeout and retries
  NODE_DB                        Delivery journal path (empty disables it)
  LOG_LEVEL                      debug, info, warn or error
  NODE_ADDR                      Node used by client commands (default http://localhost:8000)

Client commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
`)
}
