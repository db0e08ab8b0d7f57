package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/ledger"
	"github.com/steveyegge/backport/internal/types"
	"github.com/steveyegge/backport/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Review and confirm proposed tasks",
	Long: `Tasks are the cherry-picks and tracker updates a run proposes. A task only
executes in a later run once its identity is in the confirmed-task file.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks awaiting confirmation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadPaths()
		if err != nil {
			return err
		}
		pending, err := pendingTasks(s)
		if err != nil {
			return err
		}
		asYAML, _ := cmd.Flags().GetBool("yaml")
		if asYAML {
			return ledger.ExportYAML(cmd.OutOrStdout(), pending)
		}
		printTasks(cmd.OutOrStdout(), pending)
		return nil
	},
}

var tasksApproveCmd = &cobra.Command{
	Use:   "approve [number...]",
	Short: "Confirm tasks so the next run executes them",
	Long: `Confirms the tasks with the given numbers from 'bp tasks list', every
pending task with --all, or the tasks of a reviewed YAML plan with --from.
With --interactive the pending tasks are offered in a terminal checklist.

Examples:
  bp tasks approve 1 3
  bp tasks approve --all
  bp tasks approve --interactive
  bp tasks list --yaml > plan.yaml && bp tasks approve --from plan.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadPaths()
		if err != nil {
			return err
		}
		applyLockTimeout(s)

		all, _ := cmd.Flags().GetBool("all")
		from, _ := cmd.Flags().GetString("from")
		interactive, _ := cmd.Flags().GetBool("interactive")

		var selected []types.TaskIdentity
		if interactive {
			selected, err = pickTasks(s)
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Approval cancelled.")
				return nil
			}
		} else {
			selected, err = selectTasks(s, args, all, from)
		}
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no tasks selected (pass task numbers, --all or --from)")
		}

		added, err := ledger.AppendConfirmed(cmd.Context(), s.Ledger.Confirmed, selected)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s Confirmed %d tasks (%d already confirmed)\n",
			green(ui.IconPass), added, len(selected)-added)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().Bool("yaml", false, "Export the pending tasks as a YAML plan")
	tasksApproveCmd.Flags().Bool("all", false, "Confirm every pending task")
	tasksApproveCmd.Flags().String("from", "", "Confirm the tasks of a YAML plan file")
	tasksApproveCmd.Flags().BoolP("interactive", "i", false, "Choose the tasks to confirm from a checklist")
	tasksApproveCmd.MarkFlagsMutuallyExclusive("all", "from", "interactive")
	tasksCmd.AddCommand(tasksListCmd, tasksApproveCmd)
}

// pendingTasks returns the unconfirmed tasks of the ledger that are not yet
// in the confirmed-task file.
func pendingTasks(s *config.Settings) ([]types.TaskIdentity, error) {
	commits, err := ledger.Load(s.Ledger.Commits)
	if err != nil {
		return nil, err
	}
	confirmed, err := ledger.LoadConfirmed(s.Ledger.Confirmed)
	if err != nil {
		return nil, err
	}
	done := make(map[types.TaskIdentity]bool, len(confirmed))
	for _, id := range confirmed {
		done[id] = true
	}
	var out []types.TaskIdentity
	for _, id := range ledger.Unconfirmed(commits) {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func selectTasks(s *config.Settings, args []string, all bool, from string) ([]types.TaskIdentity, error) {
	if from != "" {
		f, err := os.Open(from) // #nosec G304 - user-supplied plan file
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return ledger.ReadYAML(f)
	}

	pending, err := pendingTasks(s)
	if err != nil {
		return nil, err
	}
	if all {
		return pending, nil
	}
	var out []types.TaskIdentity
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(pending) {
			return nil, fmt.Errorf("invalid task number %q (1-%d)", arg, len(pending))
		}
		out = append(out, pending[n-1])
	}
	return out, nil
}

// pickTasks asks the user which pending tasks to confirm.
func pickTasks(s *config.Settings) ([]types.TaskIdentity, error) {
	pending, err := pendingTasks(s)
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	options := make([]huh.Option[int], 0, len(pending))
	for i, id := range pending {
		label := fmt.Sprintf("%s %s", id.Type, id.Key)
		if id.Value != "" {
			label += " = " + id.Value
		}
		options = append(options, huh.NewOption(label, i))
	}

	var chosen []int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Tasks awaiting confirmation").
				Description("Space toggles a task, enter confirms the selection").
				Options(options...).
				Value(&chosen),
		),
	).WithTheme(huh.ThemeDracula())
	if err := form.Run(); err != nil {
		return nil, err
	}

	out := make([]types.TaskIdentity, 0, len(chosen))
	for _, i := range chosen {
		out = append(out, pending[i])
	}
	return out, nil
}

func printTasks(w io.Writer, pending []types.TaskIdentity) {
	if len(pending) == 0 {
		fmt.Fprintf(w, "%s No tasks awaiting confirmation\n", color.GreenString(ui.IconPass))
		return
	}
	fmt.Fprintf(w, "%s %d\n", ui.RenderHeader("Awaiting confirmation"), len(pending))
	for i, id := range pending {
		fmt.Fprintf(w, "%3d. %s %s", i+1, id.Type, id.Key)
		if id.Value != "" {
			fmt.Fprintf(w, " %s", ui.RenderMuted("= "+id.Value))
		}
		fmt.Fprintln(w)
	}
}
