package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	a := newApp()
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usagebar: %v\n", err)
		if a.exitCode == 0 {
			return 1
		}
	}
	return a.exitCode
}
