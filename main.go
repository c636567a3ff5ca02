package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
	"github.com/OnGridSystems/erc20-airdrop-cli/store"
	"github.com/OnGridSystems/erc20-airdrop-cli/utils"
)

// app carries what every subcommand needs once the root command has resolved
// settings and logging.
type app struct {
	v        *viper.Viper
	settings *utils.Settings
	logger   log.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{v: viper.New()}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Println(hint(err))
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "airdrop",
		Short: "ERC-20 airdrop tool",
		Long: `A command-line tool that distributes an ERC-20 token from one sender wallet
to a list of recipients. Transfers are queued locally, signed offline and sent
one by one with managed nonces.

Typical session:
  airdrop init
  airdrop import < key.txt
  airdrop web3 https://rpc.example.org
  airdrop token 0xTokenAddress
  airdrop update
  airdrop add 0xRecipient 1.5
  airdrop sign
  airdrop send`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	utils.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		a.initCmd(),
		a.importCmd(),
		a.tokenCmd(),
		a.web3Cmd(),
		a.updateCmd(),
		a.showCmd(),
		a.addCmd(),
		a.addFileCmd(),
		a.gasPriceCmd(),
		a.signCmd(),
		a.sendCmd(),
		a.receiptCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	settings, err := utils.LoadSettings(a.v, cmd.Flags())
	if err != nil {
		return err
	}
	lvl, err := utils.ParseLogLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	useColor := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	output := colorable.NewColorable(os.Stderr)
	if !useColor {
		output = colorable.NewNonColorable(os.Stderr)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, lvl, useColor)))

	a.settings = settings
	a.logger = log.Root().New("run", uuid.NewString()[:8], "cmd", cmd.Name())
	return nil
}

// session is one opened database plus its configuration.
type session struct {
	db  *store.Database
	cfg *airdrop.Config
}

// withSession opens the database, loads the configuration and closes the
// database once fn returns.
func (a *app) withSession(fn func(s *session) error) error {
	db, err := store.Open(a.settings.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("Failed to close database", "dir", a.settings.DataDir, "err", err)
		}
	}()

	cfg, err := db.Config()
	if err != nil {
		return err
	}
	return fn(&session{db: db, cfg: cfg})
}

func (s *session) saveConfig() error {
	return s.db.Update(func(w airdrop.Writer) error { return w.PutConfig(s.cfg) })
}

// dial connects to the configured endpoint.
func (a *app) dial(ctx context.Context, endpoint string) (*utils.EthClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("web3 endpoint is not set, run 'web3 <url>'")
	}
	return utils.NewEthClient(ctx, endpoint, a.settings.RPCTimeout, a.settings.PollInterval)
}

// controller connects to the configured endpoint and returns a controller
// over the session. The returned func closes the connection.
func (a *app) controller(ctx context.Context, s *session) (*airdrop.Controller, func(), error) {
	client, err := a.dial(ctx, s.cfg.Endpoint)
	if err != nil {
		return nil, nil, err
	}
	return airdrop.NewController(s.db, client, a.logger), client.Close, nil
}

// hint turns well-known failures into the operator message printed on exit.
func hint(err error) string {
	var partial *airdrop.PartialFailureError
	switch {
	case errors.As(err, &partial):
		return fmt.Sprintf("%d transaction(s) processed before the failure. %s", len(partial.Done), hint(partial.Err))
	case errors.Is(err, airdrop.ErrNotInitialized):
		return "Database is not initialized. Use command 'init'."
	case errors.Is(err, airdrop.ErrResyncRequired):
		return fmt.Sprintf("Needs to update account nonce. Use command 'update'. (%v)", err)
	case errors.Is(err, airdrop.ErrInsufficientFunds):
		return "Not enough ETH balance. Fill your balance and try again."
	case errors.Is(err, airdrop.ErrEstimateGas):
		return fmt.Sprintf("Not enough ETH or token balance. Fill your balance and try again. (%v)", err)
	case errors.Is(err, airdrop.ErrDryRunReverted):
		return fmt.Sprintf("Contract logic error (probably insufficient token balance). Sending aborted. (%v)", err)
	case errors.Is(err, airdrop.ErrQueueLocked):
		return fmt.Sprintf("Token cannot change while signed transfers are queued. (%v)", err)
	case errors.Is(err, utils.ErrTimeoutReached):
		return fmt.Sprintf("Receipt is not available yet, try 'receipt' later. (%v)", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
