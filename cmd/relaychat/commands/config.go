package commands

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/relaychat/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the relaychat configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a default configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(args[0]); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s is valid\n", args[0])
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{ExpandedStruct: true}
		schema := reflector.Reflect(&config.Config{})

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configValidateCmd, configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}
