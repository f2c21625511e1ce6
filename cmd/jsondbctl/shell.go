package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func (a *app) newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive jsondb shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.shellLoop()
		},
	}
}

// runShellCommand executes one shell line. It reports false once the user
// asked to leave.
func (a *app) runShellCommand(line string, out io.Writer) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	if args[0] == "exit" || args[0] == "quit" {
		return false
	}

	cmd := &cobra.Command{
		Use:           "shell",
		Short:         "jsondb shell command",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	for _, c := range a.commands() {
		c.DisableFlagsInUseLine = true
		cmd.AddCommand(c)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "exit",
		Short: "Leave the shell",
		Run:   func(*cobra.Command, []string) {},
	})

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(out, "%s failed: %v\n", args[0], err)
	}
	return true
}

func (a *app) shellLoop() error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "jsondbctl_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Fprintf(l.Stdout(), "Connected to %s. Commands: get, set, delete, keys, exit\n", a.addr)
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		if !a.runShellCommand(line, l.Stdout()) {
			return nil
		}
	}
}
