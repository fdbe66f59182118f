package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/parcelview/parcelview-client/internal/config"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parcelview",
	Short: "Command-line client for the parcelview property tracker",
	Long: `parcelview drives the property-tracking API from the terminal:
sign in, verify your email, manage the re-entry PIN and inspect the
current session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errCommandFailed) {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(
		newLoginCmd(),
		newRegisterCmd(),
		newVerifyCmd(),
		newResendCmd(),
		newPinCmd(),
		newStatusCmd(),
		newLogoutCmd(),
	)
}
