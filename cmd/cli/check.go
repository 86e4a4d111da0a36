package cli

import (
	"os"

	"github.com/canopy-network/layercast/bcast"
	"github.com/canopy-network/layercast/lib"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "verify the delivery logs of a finished run",
	Run: func(cmd *cobra.Command, args []string) {
		if !Check(membershipFlag, logDirFlag, modeFlag) {
			os.Exit(1)
		}
	},
}

var membershipFlag, logDirFlag, modeFlag = "", "", ""

func init() {
	checkCmd.Flags().StringVar(&membershipFlag, "membership", "", "the membership file of the run")
	checkCmd.Flags().StringVar(&logDirFlag, "dir", ".", "the directory holding the event logs")
	checkCmd.Flags().StringVar(&modeFlag, "mode", lib.LayerFIFO, "the ordering to verify: fifo or lcb")
	_ = checkCmd.MarkFlagRequired("membership")
}

// Check() reads every event log of a run, prints a summary and verifies the ordering of the mode
func Check(membershipPath, dir, mode string) (ok bool) {
	membership, err := lib.ParseMembershipFile(membershipPath)
	if err != nil {
		l.Fatal(err.Error())
	}
	logs, err := bcast.ReadLogs(dir, len(membership.Peers))
	if err != nil {
		l.Fatal(err.Error())
	}
	s := logs.Summarize()
	p := message.NewPrinter(language.English)
	_, _ = p.Printf("%d processes, %d broadcasts, %d deliveries\n", s.Processes, s.Broadcasts, s.Deliveries)
	switch mode {
	case lib.LayerFIFO:
		err = bcast.VerifyFIFO(logs)
	case lib.LayerLocalizedCausal:
		if err = bcast.VerifyFIFO(logs); err == nil {
			err = bcast.VerifyCausal(logs, membership)
		}
	default:
		l.Fatalf("unknown check mode %q", mode)
	}
	if err != nil {
		l.Error(err.Error())
		return false
	}
	_, _ = p.Printf("%s order holds\n", mode)
	return true
}
