package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newWorkersCmd(cli *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := struct {
				Vars    []string
				Workers [][]interface{}
			}{}
			err := cli.postJSON("/json/getworkers", nil, &resp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Workers) == 0 {
				fmt.Fprintln(out, "no worker to show")
				return nil
			}
			t := &table{Vars: resp.Vars, Rows: resp.Workers}
			for i := range t.Rows {
				status := t.get(i, "Status")
				if t.get(i, "Enabled") == "false" {
					status += "(stopped)"
				}
				line := fmt.Sprintf("%v %v", cutOrFill(t.get(i, "Name"), 16, false), cutOrFill(status, 16, false))
				if job := t.get(i, "Job"); job != "0" {
					line += " job " + job
				}
				if aff := t.get(i, "Affinity"); aff != "" {
					line += " [" + aff + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.AddCommand(
		newWorkerOpCmd(cli, "start", "Let the workers take jobs again", "/json/startworker"),
		newWorkerOpCmd(cli, "stop", "Stop the workers taking new jobs", "/json/stopworker"),
		&cobra.Command{
			Use:   "update PROP VALUE NAME...",
			Short: "Set a property of workers",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				data := namesForm(args[2:])
				data.Set("prop", args[0])
				data.Set("value", args[1])
				_, err := cli.post("/json/updateworkers", data)
				return err
			},
		},
	)
	return cmd
}

func namesForm(names []string) url.Values {
	data := url.Values{}
	for _, n := range names {
		data.Add("id", n)
	}
	return data
}

func newWorkerOpCmd(cli *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cli.post(path, namesForm(args))
			return err
		},
	}
}
