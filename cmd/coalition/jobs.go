package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/imagvfx/coalition"
)

// jobFlags are the flags to define a job. Only the flags set by the user are sent,
// so the server could decide defaults of the others.
var jobFlags = []struct {
	name  string
	usage string
}{
	{coalition.FieldParent, "id of the parent job"},
	{coalition.FieldTitle, "title of the job"},
	{coalition.FieldCommand, "command line to run on a worker"},
	{coalition.FieldDir, "working directory of the command"},
	{coalition.FieldPriority, "priority of the job, lower goes first"},
	{coalition.FieldRetry, "how many times the job could retry automatically"},
	{coalition.FieldTimeout, "timeout of the command in seconds, 0 means no timeout"},
	{coalition.FieldAffinity, "affinity a worker should have to take the job"},
	{coalition.FieldDependencies, "ids of jobs should be finished before the job, comma separated"},
}

func addJobFlags(fs *pflag.FlagSet) {
	for _, f := range jobFlags {
		fs.String(f.name, "", f.usage)
	}
}

func jobForm(fs *pflag.FlagSet) url.Values {
	data := url.Values{}
	for _, f := range jobFlags {
		fl := fs.Lookup(f.name)
		if fl == nil || !fl.Changed {
			continue
		}
		data.Set(f.name, fl.Value.String())
	}
	return data
}

func newAddCmd(cli *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job",
		Long: `Add a job.

It prints id of the new job. When the server refused the job, what printed is
the rejection code instead. The codes are listed in the server's documentation.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cli.post("/json/addjob", jobForm(cmd.Flags()))
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(strings.TrimSpace(string(body)))
			if err != nil {
				return errors.Errorf("unexpected response: %s", body)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	addJobFlags(cmd.Flags())
	return cmd
}

func newBulkCmd(cli *client) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Add sibling jobs at once. " + coalition.IndexToken + " in title and command is replaced with the index of each job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := jobForm(cmd.Flags())
			data.Set("bulkSize", strconv.Itoa(size))
			body, err := cli.post("/json/addjobbulknew", data)
			if err != nil {
				return err
			}
			if strings.TrimSpace(string(body)) == "False" {
				return errors.New("jobs rejected")
			}
			var ids []int
			err = json.Unmarshal(body, &ids)
			if err != nil {
				return errors.Wrapf(err, "unexpected response: %s", body)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	addJobFlags(cmd.Flags())
	cmd.Flags().IntVarP(&size, "size", "n", 1, "number of the jobs")
	return cmd
}

// cutOrFill makes s to have n characters, cutting or filling spaces to it.
func cutOrFill(s string, n int, fillLeft bool) string {
	if n < 0 {
		// invalid input
		return s
	}
	if len(s) > n {
		return s[:n]
	}
	spaces := strings.Repeat(" ", n-len(s))
	if fillLeft {
		return spaces + s
	}
	return s + spaces
}

func newListCmd(cli *client) *cobra.Command {
	var parent int
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List children of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := url.Values{}
			data.Set("id", strconv.Itoa(parent))
			data.Set("filter", strings.ToUpper(filter))
			resp := struct {
				Vars    []string
				Jobs    [][]interface{}
				Parents []struct {
					ID    int
					Title string
				}
			}{}
			err := cli.postJSON("/json/getjobs", data, &resp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Parents) != 0 {
				path := make([]string, 0, len(resp.Parents))
				for _, p := range resp.Parents {
					path = append(path, fmt.Sprintf("%v(%v)", p.Title, p.ID))
				}
				fmt.Fprintln(out, strings.Join(path, " > "))
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "no job to show")
				return nil
			}
			t := &table{Vars: resp.Vars, Rows: resp.Jobs}
			for i := range t.Rows {
				line := fmt.Sprintf("[%v] %v %v - %v",
					t.get(i, "ID"),
					cutOrFill(t.get(i, "State"), 8, false),
					cutOrFill(t.get(i, "Worker"), 12, false),
					t.get(i, "Title"),
				)
				if total := t.get(i, "Total"); total != "0" && total != "" {
					line += fmt.Sprintf(" (%v/%v)", t.get(i, "Finished"), total)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parent, "parent", "p", 0, "id of the parent job, 0 lists jobs under the root")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "list only the jobs having the state")
	return cmd
}

// jobOp is an operation applied to jobs.
type jobOp struct {
	use   string
	short string
	path  string
}

var jobOps = []jobOp{
	{"retry", "Put finished or failed jobs back to the queue", "/json/retryjob"},
	{"delete", "Delete jobs and their sub jobs", "/json/deletejob"},
	{"reset", "Put finished or failed jobs back to the queue", "/json/resetjobs"},
	{"reset-errors", "Put failed jobs back to the queue", "/json/reseterrorjobs"},
	{"pause", "Pause waiting or working jobs", "/json/pausejobs"},
	{"start", "Put paused jobs back to the queue", "/json/startjobs"},
	{"stop", "Put working jobs back to the queue", "/json/stopjobs"},
	{"clear", "Same as delete", "/json/clearjobs"},
}

func idsForm(args []string) (url.Values, error) {
	data := url.Values{}
	for _, a := range args {
		for _, s := range strings.Split(a, ",") {
			if _, err := strconv.Atoi(s); err != nil {
				return nil, errors.Errorf("invalid job id: %q", s)
			}
			data.Add("id", s)
		}
	}
	return data, nil
}

func newJobOpCmd(cli *client, op jobOp) *cobra.Command {
	return &cobra.Command{
		Use:   op.use + " ID...",
		Short: op.short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := idsForm(args)
			if err != nil {
				return err
			}
			_, err = cli.post(op.path, data)
			return err
		},
	}
}

func newUpdateCmd(cli *client) *cobra.Command {
	return &cobra.Command{
		Use:   "update PROP VALUE ID...",
		Short: "Set a property of jobs",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := idsForm(args[2:])
			if err != nil {
				return err
			}
			data.Set("prop", args[0])
			data.Set("value", args[1])
			_, err = cli.post("/json/updatejobs", data)
			return err
		},
	}
}
