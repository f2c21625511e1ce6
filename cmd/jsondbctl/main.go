// Command jsondbctl is a command line client for a jsondb server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ASHISH26940/jsondb/internal/client"
)

type app struct {
	addr    string
	timeout time.Duration
}

func main() {
	if err := newRootCommand(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "jsondbctl",
		Short:        "Command line client for jsondb",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.addr, "addr", "http://localhost:2000", "Server address")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 5*time.Second, "Request timeout")
	root.AddCommand(a.commands()...)
	root.AddCommand(a.newShellCommand())
	return root
}

func (a *app) client() *client.Client {
	return client.New(a.addr)
}

func (a *app) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

// commands returns the key-value commands shared by the CLI and the shell.
func (a *app) commands() []*cobra.Command {
	get := &cobra.Command{
		Use:   "get key",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runGet,
	}
	get.Flags().BoolP("meta", "m", false, "Also print version and timestamp")

	set := &cobra.Command{
		Use:   "set key value",
		Short: "Store a JSON value under key",
		Long: "Store a JSON value under key. A value that is not valid JSON is stored as a string.\n" +
			"Use -- before values that start with a dash.",
		Args: cobra.MinimumNArgs(2),
		RunE: a.runSet,
	}
	set.Flags().Int64("version", 0, "Version the value is based on")
	set.Flags().Int64("timestamp", 0, "Timestamp of the write in Unix milliseconds")

	return []*cobra.Command{
		get,
		set,
		{
			Use:   "delete key",
			Short: "Delete key",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runDelete,
		},
		{
			Use:   "keys",
			Short: "List all keys",
			Args:  cobra.NoArgs,
			RunE:  a.runKeys,
		},
	}
}

func (a *app) runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := a.context()
	defer cancel()
	e, err := a.client().Get(ctx, args[0])
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, e.Value, "", "  "); err != nil {
		return errors.Wrap(err, "format value")
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	if meta, _ := cmd.Flags().GetBool("meta"); meta {
		fmt.Fprintf(cmd.OutOrStdout(), "version=%d timestamp=%d\n", e.Version, e.Timestamp)
	}
	return nil
}

func (a *app) runSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := parseValue(strings.Join(args[1:], " "))

	var opts client.SetOptions
	if cmd.Flags().Changed("version") {
		v, _ := cmd.Flags().GetInt64("version")
		opts.Version = &v
	}
	if cmd.Flags().Changed("timestamp") {
		ts, _ := cmd.Flags().GetInt64("timestamp")
		opts.Timestamp = &ts
	}

	ctx, cancel := a.context()
	defer cancel()
	if err := a.client().Set(ctx, key, value, opts); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s ok\n", key)
	return nil
}

func (a *app) runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := a.context()
	defer cancel()
	if err := a.client().Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Delete %s ok\n", args[0])
	return nil
}

func (a *app) runKeys(cmd *cobra.Command, args []string) error {
	ctx, cancel := a.context()
	defer cancel()
	keys, err := a.client().Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "0 keys")
		return nil
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

// parseValue treats s as JSON when it parses and as a plain string otherwise.
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}
