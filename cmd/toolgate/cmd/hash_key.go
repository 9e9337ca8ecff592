package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/plugin/external"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an Argon2id hash for a plugin host API key",
	Long: `Generate an Argon2id hash of an API key for use with the plugin host.

The output is a PHC-format string that can be passed to
"toolgate plugin-server --api-key-hash" to require authentication on the
HTTP transport.

Example:
  toolgate hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  toolgate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := external.HashAPIKey(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
