package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect and control projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		projects := st.Projects()
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		for _, p := range projects {
			done, total := plan.Progress(&p.Plan)
			fmt.Printf("%-24s %-12s %3d/%-3d stories  iteration %d\n",
				p.ID, p.Status, done, total, p.Iteration)
		}
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show one project in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		proj, err := st.Project(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Project:   %s\n", proj.ID)
		fmt.Printf("Status:    %s\n", proj.Status)
		fmt.Printf("Path:      %s\n", proj.RootPath)
		fmt.Printf("Iteration: %d\n", proj.Iteration)
		for _, stage := range proj.Plan.Stages {
			marker := " "
			if stage.IsCompleted {
				marker = "x"
			}
			fmt.Printf("[%s] %s — %s\n", marker, stage.Name, stage.Mission)
			for _, story := range stage.Stories {
				state := " "
				switch {
				case story.Passes:
					state = "x"
				case story.IsSkipped:
					state = "s"
				}
				fmt.Printf("    [%s] %s\n", state, story.Title)
			}
		}
		return nil
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		return postDaemon("/api/projects", fmt.Sprintf(`{"name":%q,"path":%q}`, args[0], path))
	},
}

var projectInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Materialise the workspace and initial commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postDaemon("/api/projects/"+args[0]+"/init", "")
	},
}

var projectStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a project's pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postDaemon("/api/projects/"+args[0]+"/start", "")
	},
}

var projectStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a project's pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postDaemon("/api/projects/"+args[0]+"/stop", "")
	},
}

func init() {
	projectCreateCmd.Flags().String("path", "", "Workspace path (default <cwd>/Projects/<name>)")
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectStatusCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectStartCmd)
	projectCmd.AddCommand(projectStopCmd)

	projectCmd.PersistentFlags().String("daemon", "http://localhost:3000", "Daemon base URL")
	rootCmd.PersistentFlags().String("store", store.DefaultPath, "Path to the state document")
}

func openStore() (*store.Store, error) {
	path, _ := rootCmd.PersistentFlags().GetString("store")
	return store.Open(path)
}

// postDaemon sends a control request to the running daemon.
func postDaemon(path, body string) error {
	base, _ := projectCmd.PersistentFlags().GetString("daemon")
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	resp, err := http.Post(base+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("ok")
	return nil
}
