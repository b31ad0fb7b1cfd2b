package main

import (
	"fmt"
	"os"
)

const usage = `usage:
  admin db [-data ./data | -db PATH] [-run RUN] [-unit ID] [-limit N] runs|ticks|commands
  admin ticks   [-url http://127.0.0.1:8080] [-limit N]
  admin clients [-url http://127.0.0.1:8080]
  admin reset   [-url http://127.0.0.1:8080]
  admin state   [-url http://127.0.0.1:8080]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "db":
		dbCmd(args)
	case "ticks":
		ticksCmd(args)
	case "clients":
		clientsCmd(args)
	case "reset":
		resetCmd(args)
	case "state":
		stateCmd(args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}
