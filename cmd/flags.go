package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagValue reads a flag registered in init(). A lookup error means the flag
// name and the registration disagree, so it panics rather than returning.
func flagValue[T any](cmd *cobra.Command, name string, get func(*pflag.FlagSet, string) (T, error)) T {
	v, err := get(cmd.Flags(), name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return v
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return flagValue(cmd, name, (*pflag.FlagSet).GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return flagValue(cmd, name, (*pflag.FlagSet).GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return flagValue(cmd, name, (*pflag.FlagSet).GetString)
}

func mustGetDuration(cmd *cobra.Command, name string) time.Duration {
	return flagValue(cmd, name, (*pflag.FlagSet).GetDuration)
}
