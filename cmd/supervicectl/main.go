// Command supervicectl is the control-socket client CLI (spec.md §6
// "Client CLI"): a thin cobra wrapper over pkg/client, one subcommand per
// RPC command. Grounded on the teacher's cmd/provisr/main.go cobra
// root+subcommand shape, reworked from "talks to an in-process Manager" to
// "talks to a remote daemon over the control socket" since this spec's CLI
// and daemon are separate processes connected only by the Unix socket.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arrowcrest/supervice/internal/config"
	"github.com/arrowcrest/supervice/pkg/client"
)

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:           "supervicectl",
		Short:         "Control client for the supervice daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&socketPath, "socket", "s", config.DefaultSocketPath, "path to the daemon's control socket")

	root.AddCommand(
		statusCmd(&socketPath),
		startCmd(&socketPath),
		stopCmd(&socketPath),
		restartCmd(&socketPath),
		startGroupCmd(&socketPath),
		stopGroupCmd(&socketPath),
		reloadCmd(&socketPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "supervicectl:", err)
		os.Exit(1)
	}
}

func call(socketPath string, fn func(*client.Client) (client.Response, error)) error {
	c := client.New(socketPath)
	resp, err := fn(c)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	printResponse(resp)
	return nil
}

func printResponse(resp client.Response) {
	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var pretty any
	if err := json.Unmarshal(resp.Data, &pretty); err == nil {
		b, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(string(resp.Data))
}

func statusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of every supervised instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(c *client.Client) (client.Response, error) { return c.Status() })
		},
	}
}

func startCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start NAME",
		Short: "Start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(c *client.Client) (client.Response, error) { return c.Start(args[0]) })
		},
	}
}

func stopCmd(socketPath *string) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(cl *client.Client) (client.Response, error) { return cl.Stop(args[0], force) })
		},
	}
	c.Flags().BoolVar(&force, "force", false, "skip the graceful stop signal and go straight to SIGKILL")
	return c
}

func restartCmd(socketPath *string) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "restart NAME",
		Short: "Stop then start an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(cl *client.Client) (client.Response, error) { return cl.Restart(args[0], force) })
		},
	}
	c.Flags().BoolVar(&force, "force", false, "skip the graceful stop signal and go straight to SIGKILL")
	return c
}

func startGroupCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "startgroup NAME",
		Short: "Start every instance in a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(c *client.Client) (client.Response, error) { return c.StartGroup(args[0]) })
		},
	}
}

func stopGroupCmd(socketPath *string) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "stopgroup NAME",
		Short: "Stop every instance in a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(cl *client.Client) (client.Response, error) { return cl.StopGroup(args[0], force) })
		},
	}
	c.Flags().BoolVar(&force, "force", false, "skip the graceful stop signal and go straight to SIGKILL")
	return c
}

func reloadCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the daemon's configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(*socketPath, func(c *client.Client) (client.Response, error) { return c.Reload() })
		},
	}
}
