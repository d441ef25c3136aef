package cmd

import (
	"fmt"
	"runtime"

	"github.com/callbridge/callcapture/internal/audio"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List current audio capture sessions",
	Long: `List the audio sessions currently registered on the system's capture
endpoints, with the owning process name and session state. Useful for finding
the process name to put in monitor.process_names.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime.LockOSThread()

		source, err := audio.NewSystemSource()
		if err != nil {
			return fmt.Errorf("failed to initialize audio session source: %w", err)
		}
		defer source.Close()

		return listSessions(source)
	},
}

func listSessions(source audio.Source) error {
	sessions, err := source.Sessions()
	if err != nil {
		return fmt.Errorf("failed to enumerate audio sessions: %w", err)
	}

	fmt.Printf("🎤 Audio Sessions (%s)\n", runtime.GOOS)
	fmt.Printf("═══════════════════════════════════════\n\n")

	capture := 0
	for _, s := range sessions {
		if s.Direction != audio.DirectionCapture {
			continue
		}
		capture++
		state := "inactive"
		if s.Active {
			state = "active"
		}
		fmt.Printf("  %d. %s (%s)\n", capture, s.Process, state)
	}

	if capture == 0 {
		fmt.Printf("  No capture sessions found.\n")
	}

	fmt.Printf("\n💡 Put the process name of your softphone in monitor.process_names\n")
	fmt.Printf("   and it will be tracked while it holds an active capture session.\n\n")

	return nil
}
