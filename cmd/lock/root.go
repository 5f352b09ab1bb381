package lock

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ValentinKolb/geoKV/cmd/util"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Work with the lock files used to serialize index writers",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return common.InitLoggers(viper.GetString("log-level"))
		},
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run [lock-file] -- [command...]",
		Short: "Runs a command while holding a lock file",
		Long: util.WrapString("Acquires the lock file, runs the command and releases the lock once the command " +
			"exits. Index writers configured with the same --lock-file wait meanwhile."),
		Args: cobra.MinimumNArgs(2),
		RunE: runLocked,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [lock-file]",
		Short: "Reports whether a lock file is currently held",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if os.IsNotExist(err) {
				fmt.Println("locked=false")
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("locked=true, since=%s\n", info.ModTime().Format(time.RFC3339))
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(runCmd)
	LockCommands.AddCommand(statusCmd)

	LockCommands.PersistentFlags().String("log-level", "warn", util.WrapString("Level at which logs will be output (debug, info, warn, error)"))

	runCmd.Flags().Duration("timeout", 0, util.WrapString("Give up if the lock is not acquired within this time (0 = wait forever)"))
	runCmd.Flags().Duration("delay", 100*time.Millisecond, util.WrapString("Poll interval while the lock is held by someone else"))
}

// runLocked runs the command given after the lock file inside the lock
func runLocked(cmd *cobra.Command, args []string) error {
	s := lockmgr.NewProcessSynchronizer(args[0], &lockmgr.ProcessOptions{
		Delay:   viper.GetDuration("delay"),
		Timeout: viper.GetDuration("timeout"),
	})

	return lockmgr.WithLock(cmd.Context(), s, func() error {
		child := exec.CommandContext(cmd.Context(), args[1], args[2:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Run(); err != nil {
			return fmt.Errorf("command failed: %w", err)
		}
		return nil
	})
}
