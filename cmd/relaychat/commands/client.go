package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/relaychat/pkg/client"
)

var clientCmd = &cobra.Command{
	Use:   "client <server_ip> <port>",
	Short: "Connect to a relaychat server",
	Long: `Connect to a relaychat server as an interactive terminal client.

After logging in, type /help for the command list. Files sent to you are
saved into the current working directory.`,
	Args: cobra.ExactArgs(2),
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", args[1])
	}

	c, err := client.Dial(host, port)
	if err != nil {
		return err
	}

	if err := c.Login(); err != nil {
		return err
	}
	return c.Run()
}
