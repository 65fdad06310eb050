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
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/hostedjob/internal/cliclient"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

func newApplicationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applications",
		Short: "Register, submit to, and unregister hosted applications",
	}

	cmd.AddCommand(newApplicationsRegisterCommand())
	cmd.AddCommand(newApplicationsUnregisterCommand())
	cmd.AddCommand(newApplicationsSubmitCommand())

	return cmd
}

func applicationFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "", "tenant name")
	cmd.Flags().String("application", "", "application name")
	cmd.Flags().String("instance", "default", "instance name")
}

func applicationIDFromFlags(cmd *cobra.Command) jobmodel.ApplicationId {
	tenant, _ := cmd.Flags().GetString("tenant")
	application, _ := cmd.Flags().GetString("application")
	instance, _ := cmd.Flags().GetString("instance")
	return jobmodel.ApplicationId{Tenant: tenant, Application: application, Instance: instance}
}

func newApplicationsRegisterCommand() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new hosted application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return registerApplication(cmd, applicationIDFromFlags(cmd), projectID)
		},
	}
	applicationFlags(cmd)
	cmd.Flags().StringVar(&projectID, "project-id", "", "billing/project identifier")
	return cmd
}

func registerApplication(cmd *cobra.Command, appID jobmodel.ApplicationId, projectID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := cliclient.FromEnvironment()
	body := map[string]any{
		"application": appID,
		"projectId":   projectID,
	}
	var resp map[string]any
	if err := c.Post(ctx, "/v1/applications", body, &resp); err != nil {
		return fmt.Errorf("register application: %w", err)
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}
	fmt.Println(cliclient.StatusOK.Render("registered") + " " + appID.String())
	return nil
}

func newApplicationsUnregisterCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Unregister an application and abort its active runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			appID := applicationIDFromFlags(cmd)

			if !yes {
				confirmed := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Unregister %s? This aborts any active runs.", appID),
					Default: false,
				}
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
			if err := c.Delete(ctx, "/v1/applications", map[string]any{"application": appID}, nil); err != nil {
				return fmt.Errorf("unregister application: %w", err)
			}
			fmt.Println(cliclient.StatusOK.Render("unregistered") + " " + appID.String())
			return nil
		},
	}
	applicationFlags(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newApplicationsSubmitCommand() *cobra.Command {
	var repository, branch, commit, authorEmail, appPackagePath, testPackagePath string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new application build (a source revision plus packages)",
		RunE: func(cmd *cobra.Command, args []string) error {
			appID := applicationIDFromFlags(cmd)

			appPkg, err := os.ReadFile(appPackagePath)
			if err != nil {
				return fmt.Errorf("read application package: %w", err)
			}
			var testPkg []byte
			if testPackagePath != "" {
				testPkg, err = os.ReadFile(testPackagePath)
				if err != nil {
					return fmt.Errorf("read test package: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			c := cliclient.FromEnvironment()
			body := map[string]any{
				"application": appID,
				"revision": jobmodel.SourceRevision{
					Repository: repository,
					Branch:     branch,
					Commit:     commit,
				},
				"authorEmail": authorEmail,
				"appPackage":  appPkg,
				"testPackage": testPkg,
			}
			var version jobmodel.ApplicationVersion
			if err := c.Post(ctx, "/v1/applications/submit", body, &version); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(version)
			}
			fmt.Printf("%s build %d (%s@%s)\n", cliclient.StatusOK.Render("submitted"), version.BuildNumber, repository, commit)
			return nil
		},
	}
	applicationFlags(cmd)
	cmd.Flags().StringVar(&repository, "repository", "", "source repository URL")
	cmd.Flags().StringVar(&branch, "branch", "main", "source branch")
	cmd.Flags().StringVar(&commit, "commit", "", "source commit SHA")
	cmd.Flags().StringVar(&authorEmail, "author-email", "", "build author email (for notifications)")
	cmd.Flags().StringVar(&appPackagePath, "package", "", "path to the application package")
	cmd.Flags().StringVar(&testPackagePath, "test-package", "", "path to the test package (optional)")
	_ = cmd.MarkFlagRequired("repository")
	_ = cmd.MarkFlagRequired("commit")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}
