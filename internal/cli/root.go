package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/Dozilab/internal/config"
)

// NewRootCmd собирает корневую команду dozilab.
func NewRootCmd(env *Env, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dozilab",
		Short:         "Dozilab — deployment orchestration for lab environments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&env.ConfigPath, "config", "", "Config file (default: $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().BoolVar(&env.JSON, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		NewTemplateCmd(env.App, env.Output),
		NewDeploymentCmd(env.App, env.Output),
		NewProjectCmd(env.App, env.Output),
		NewMigrateCmd(env.App, env.Output),
		NewConfigCmd(env.Config, env.Output),
	)

	return rootCmd
}
