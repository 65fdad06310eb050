// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/hostedjob/internal/cliclient"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Start, deploy, abort, and inspect job runs",
	}

	cmd.AddCommand(newRunsStartCommand())
	cmd.AddCommand(newRunsDeployCommand())
	cmd.AddCommand(newRunsAbortCommand())
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsLastCommand())
	cmd.AddCommand(newRunsActiveCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsLogsCommand())

	return cmd
}

func jobTypeFlags(cmd *cobra.Command) {
	applicationFlags(cmd)
	cmd.Flags().String("type", "", "job type (e.g. systemTest, productionUsEast3)")
}

func jobKeyFromFlags(cmd *cobra.Command) jobmodel.JobKey {
	jobType, _ := cmd.Flags().GetString("type")
	return jobmodel.JobKey{Application: applicationIDFromFlags(cmd), Type: jobmodel.JobType(jobType)}
}

func jobKeyQuery(key jobmodel.JobKey) string {
	q := url.Values{}
	q.Set("tenant", key.Application.Tenant)
	q.Set("application", key.Application.Application)
	q.Set("instance", key.Application.Instance)
	q.Set("type", string(key.Type))
	return q.Encode()
}

func newRunsStartCommand() *cobra.Command {
	var targetPlatform, targetApplication, sourcePlatform, sourceApplication string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run for a job type",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			versions := jobmodel.Versions{
				TargetPlatform:    targetPlatform,
				TargetApplication: targetApplication,
				SourcePlatform:    sourcePlatform,
				SourceApplication: sourceApplication,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			body := map[string]any{
				"application": key.Application,
				"type":        key.Type,
				"versions":    versions,
			}
			var id jobmodel.RunId
			if err := c.Post(ctx, "/v1/runs/start", body, &id); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(id)
			}
			fmt.Printf("%s %s #%d\n", cliclient.StatusOK.Render("started"), key, id.Number)
			return nil
		},
	}
	jobTypeFlags(cmd)
	cmd.Flags().StringVar(&targetPlatform, "target-platform", "", "target platform build reference")
	cmd.Flags().StringVar(&targetApplication, "target-application", "", "target application build reference")
	cmd.Flags().StringVar(&sourcePlatform, "source-platform", "", "source platform build reference (staging tests)")
	cmd.Flags().StringVar(&sourceApplication, "source-application", "", "source application build reference (staging tests)")
	return cmd
}

func newRunsDeployCommand() *cobra.Command {
	var platformVersion, packagePath string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Manually deploy a package, bypassing the submit pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			pkg, err := os.ReadFile(packagePath)
			if err != nil {
				return fmt.Errorf("read package: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			c := cliclient.FromEnvironment()
			body := map[string]any{
				"application":     key.Application,
				"type":            key.Type,
				"platformVersion": platformVersion,
				"package":         pkg,
			}
			var id jobmodel.RunId
			if err := c.Post(ctx, "/v1/runs/deploy", body, &id); err != nil {
				return fmt.Errorf("deploy: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(id)
			}
			fmt.Printf("%s %s #%d\n", cliclient.StatusOK.Render("deployed"), key, id.Number)
			return nil
		},
	}
	jobTypeFlags(cmd)
	cmd.Flags().StringVar(&platformVersion, "platform-version", "", "platform version to deploy against")
	cmd.Flags().StringVar(&packagePath, "package", "", "path to the application package")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

func newRunsAbortCommand() *cobra.Command {
	var number int64
	var yes bool
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			id := jobmodel.RunId{Application: key.Application, Type: key.Type, Number: number}

			if !yes {
				confirmed := false
				prompt := &survey.Confirm{Message: fmt.Sprintf("Abort %s #%d?", key, number)}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					return fmt.Errorf("aborted: confirmation declined")
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			if err := c.Post(ctx, "/v1/runs/abort", map[string]any{"run": id}, nil); err != nil {
				return fmt.Errorf("abort run: %w", err)
			}
			fmt.Printf("%s %s #%d\n", cliclient.StatusWarn.Render("aborted"), key, number)
			return nil
		},
	}
	jobTypeFlags(cmd)
	cmd.Flags().Int64Var(&number, "number", 0, "run number to abort")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newRunsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained runs for a job type",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			var runs map[string]jobmodel.Run
			if err := c.Get(ctx, "/v1/runs?"+jobKeyQuery(key), &runs); err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			printRunsTable(runs)
			return nil
		},
	}
	jobTypeFlags(cmd)
	return cmd
}

func newRunsLastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the most recent run for a job type",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			var run jobmodel.Run
			if err := c.Get(ctx, "/v1/runs/last?"+jobKeyQuery(key), &run); err != nil {
				return fmt.Errorf("get last run: %w", err)
			}
			return printRun(run)
		},
	}
	jobTypeFlags(cmd)
	return cmd
}

func newRunsActiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List every run currently in flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			var runs []jobmodel.Run
			if err := c.Get(ctx, "/v1/runs/active", &runs); err != nil {
				return fmt.Errorf("list active runs: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			indexed := make(map[string]jobmodel.Run, len(runs))
			for _, r := range runs {
				indexed[r.ID.String()] = r
			}
			printRunsTable(indexed)
			return nil
		},
	}
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var number int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show full details for one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			var run jobmodel.Run
			path := fmt.Sprintf("/v1/runs/%d?%s", number, jobKeyQuery(key))
			if err := c.Get(ctx, path, &run); err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			return printRun(run)
		},
	}
	jobTypeFlags(cmd)
	cmd.Flags().Int64Var(&number, "number", 0, "run number")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newRunsLogsCommand() *cobra.Command {
	var number, after int64
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show a run's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := jobKeyFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c := cliclient.FromEnvironment()
			var entries []jobmodel.LogEntry
			path := fmt.Sprintf("/v1/runs/%d/log?%s&after=%d", number, jobKeyQuery(key), after)
			if err := c.Get(ctx, path, &entries); err != nil {
				return fmt.Errorf("get log: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}
			for _, e := range entries {
				fmt.Printf("[%s] %-7s %s\n", time.UnixMilli(e.Millis).Local().Format("15:04:05"), e.Level, e.Text)
			}
			return nil
		},
	}
	jobTypeFlags(cmd)
	cmd.Flags().Int64Var(&number, "number", 0, "run number")
	cmd.Flags().Int64Var(&after, "after", 0, "only show entries with an ID greater than this")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func printRunsTable(runs map[string]jobmodel.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return
	}
	fmt.Println(cliclient.Header.Render("NUMBER  STATUS       STARTED"))
	for _, run := range runs {
		fmt.Printf("%-7d %-12s %s\n", run.ID.Number, cliclient.RenderRunStatus(string(run.Status)), run.Start.Local().Format("2006-01-02 15:04:05"))
	}
}

func printRun(run jobmodel.Run) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(run)
	}
	fmt.Printf("Run:      %s #%d\n", run.ID.Application, run.ID.Number)
	fmt.Printf("Type:     %s\n", run.ID.Type)
	fmt.Printf("Status:   %s\n", cliclient.RenderRunStatus(string(run.Status)))
	fmt.Printf("Started:  %s\n", run.Start.Local().Format(time.RFC3339))
	if run.End != nil {
		fmt.Printf("Ended:    %s\n", run.End.Local().Format(time.RFC3339))
	}
	fmt.Println(cliclient.Muted.Render("Steps:"))
	for step, status := range run.Steps {
		fmt.Printf("  %-20s %s\n", step, status)
	}
	return nil
}
