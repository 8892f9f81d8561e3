package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autopilot/internal/project"
)

var registerOpts struct {
	repoURL  string
	path     string
	metadata []string
}

func init() {
	projectsRegisterCmd.Flags().StringVar(&registerOpts.repoURL, "repo", "", "repository URL")
	projectsRegisterCmd.Flags().StringVar(&registerOpts.path, "path", "", "working copy directory (default <projects_dir>/<id>)")
	projectsRegisterCmd.Flags().StringSliceVarP(&registerOpts.metadata, "meta", "m", nil, "metadata as key=value, repeatable")

	projectsCmd.AddCommand(projectsListCmd, projectsRegisterCmd, projectsRemoveCmd)
	rootCmd.AddCommand(projectsCmd)
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the project registry",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []project.Entry
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/projects", nil, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("No projects registered")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREPO\tPATH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.ProjectID, e.RepoURL, e.Path)
		}
		return w.Flush()
	},
}

var projectsRegisterCmd = &cobra.Command{
	Use:   "register <project-id>",
	Short: "Register a project",
	Long: `Register a project with the daemon.

Examples:
  apctl projects register shop --repo https://github.com/acme/shop --meta team=payments`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseMetadata(registerOpts.metadata)
		if err != nil {
			return err
		}
		body := map[string]any{
			"project_id": args[0],
			"repo_url":   registerOpts.repoURL,
			"path":       registerOpts.path,
			"metadata":   meta,
		}
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/projects/register", body, nil); err != nil {
			return err
		}
		cmd.Printf("Registered project %s\n", args[0])
		return nil
	},
}

var projectsRemoveCmd = &cobra.Command{
	Use:     "remove <project-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a project from the registry",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(serverURL).do(cmd.Context(), "DELETE", "/projects/"+args[0], nil, nil); err != nil {
			return err
		}
		cmd.Printf("Removed project %s\n", args[0])
		return nil
	},
}

func parseMetadata(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}
