package main

import (
	"fmt"
	"os"
)

// admin is the operator CLI. It talks to a running server's loopback
// admin API for live stages, and reads the state store directly for
// offline inspection.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stages":
			stagesCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "timeout":
			interveneCmd("timeout", os.Args[2:])
			return
		case "reassign":
			interveneCmd("reassign", os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "-h", "--help", "help":
			usage()
			return
		}
	}
	stagesCmd(os.Args[1:])
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  stages      list provisioned stage instances (default)
  inspect     dump one stage's persisted state and override trail
  timeout     force-timeout a stage's pending turn
  reassign    reassign a stage's turn to another participant
  db          query the state store directly (transactions, overrides)`)
}
