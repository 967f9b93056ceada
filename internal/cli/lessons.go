package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "Show recorded failure lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		lessons := st.Lessons()
		if len(lessons) == 0 {
			fmt.Println("No lessons recorded.")
			return nil
		}
		for _, l := range lessons {
			fmt.Printf("%s  %s / %s / %s\n    %s\n", l.Timestamp, l.Project, l.Stage, l.Task, l.Error)
		}
		return nil
	},
}

var lessonsDeleteCmd = &cobra.Command{
	Use:   "delete <timestamp>",
	Short: "Delete a lesson by timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		if err := st.DeleteLesson(args[0]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

func init() {
	lessonsCmd.AddCommand(lessonsDeleteCmd)
}
