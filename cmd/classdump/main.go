// Command classdump disassembles compiled JVM class files.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/dis"
)

var version = "dev"

func main() {
	var noColor bool
	var expandFrames bool

	root := &cobra.Command{
		Use:           "classdump <file.class>",
		Short:         "Disassemble JVM class files",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var opts []classfile.Option
			if expandFrames {
				opts = append(opts, classfile.WithFrameMode(classfile.FrameModeExpand))
			}
			return dis.Print(data, cmd.OutOrStdout(), opts...)
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.Flags().BoolVar(&expandFrames, "expand-frames", false, "expand the stack map table into full frames")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "classdump", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "classdump:", err)
		os.Exit(1)
	}
}
